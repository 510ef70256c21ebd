package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"gopkg.in/yaml.v3"
)

// Section files looked up in the config directory, each as .yaml first and .json second.
const (
	ServerFile = "server"
	WebRTCFile = "webrtc"
	ClientFile = "client"
	TURNFile   = "turn"
	LogFile    = "log"
)

func LoadAppConfig(dir string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	var rawServer RawServerConfig
	if err := loadFileInto(dir, ServerFile, &rawServer); err != nil {
		return nil, err
	}
	parsedServer, err := rawServer.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", ServerFile, err)
	}
	mergeInto(&cfg.Server, parsedServer)

	var rawWebRTC RawWebRTCConfig
	if err := loadFileInto(dir, WebRTCFile, &rawWebRTC); err != nil {
		return nil, err
	}
	parsedWebRTC, err := rawWebRTC.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", WebRTCFile, err)
	}
	mergeInto(&cfg.WebRTC, parsedWebRTC)

	var rawClient RawClientConfig
	if err := loadFileInto(dir, ClientFile, &rawClient); err != nil {
		return nil, err
	}
	mergeInto(&cfg.Client, rawClient.ToDomain())

	var rawTURN RawTURNConfig
	if err := loadFileInto(dir, TURNFile, &rawTURN); err != nil {
		return nil, err
	}
	mergeInto(&cfg.TURN, rawTURN.ToDomain())

	var rawLog RawLogConfig
	if err := loadFileInto(dir, LogFile, &rawLog); err != nil {
		return nil, err
	}
	mergeInto(&cfg.Log, rawLog.ToDomain())

	return &cfg, nil
}

func loadFileInto(dir, filenameBase string, target interface{}) error {
	basePath := filepath.Join(dir, filenameBase)

	if f, err := os.Open(basePath + ".yaml"); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(target); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Warn("config file is empty, using defaults", "file", basePath+".yaml")
				return nil
			}
			return fmt.Errorf("can not decode config file %s.yaml: %w", basePath, err)
		}
		return nil
	}

	if f, err := os.Open(basePath + ".json"); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(target); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Warn("config file is empty, using defaults", "file", basePath+".json")
				return nil
			}
			return fmt.Errorf("can not decode config file %s.json: %w", basePath, err)
		}
		return nil
	}

	return nil
}

func mergeInto(dst, src interface{}) {
	dstVal := reflect.ValueOf(dst).Elem()
	srcVal := reflect.ValueOf(src)

	mergeValues(dstVal, srcVal)
}

func mergeValues(dstVal, srcVal reflect.Value) {
	for i := 0; i < srcVal.NumField(); i++ {
		srcField := srcVal.Field(i)
		dstField := dstVal.Field(i)

		switch srcField.Kind() {
		case reflect.Struct:
			mergeValues(dstField, srcField)
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(srcField)
			}
		case reflect.Pointer:
			if !srcField.IsNil() {
				dstField.Set(srcField)
			}
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}
}
