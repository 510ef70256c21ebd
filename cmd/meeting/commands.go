package main

import "strings"

type command struct {
	name string
	arg  string
}

// parseCommand splits a "/name arg" line. Lines that do not start with a slash are chat.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, false
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

const helpText = `commands:
  /share <file.ivf>  send a video file instead of the camera
  /unshare           go back to the camera
  /audio             mute or unmute audio
  /video             turn video off or on
  /peers             list calls
  /quit              leave the room`
