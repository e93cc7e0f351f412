package cln_plugin

import (
	"log"
	"strings"
)

var logLevels = []struct {
	marker string
	level  string
}{
	{"DEBUG: ", "debug"},
	{"UNUSUAL: ", "unusual"},
	{"BROKEN: ", "broken"},
}

// logWriter forwards lines written by the log package to lightningd as log
// notifications. The level is taken from a marker in the line, the default is
// info.
type logWriter struct {
	plugin *ClnPlugin
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}

		level, message := logLevel(line)
		w.plugin.log(level, message)
	}

	return len(p), nil
}

func logLevel(line string) (string, string) {
	for _, l := range logLevels {
		if i := strings.Index(line, l.marker); i >= 0 {
			return l.level, line[:i] + line[i+len(l.marker):]
		}
	}

	return "info", line
}

func (c *ClnPlugin) log(level string, message string) {
	c.sendToCln(&Request{
		Method:  "log",
		JsonRpc: SpecVersion,
		Params:  mustMarshal(&LogNotification{Level: level, Message: message}),
	})
}

func (c *ClnPlugin) setupLogging() {
	c.prevLog = log.Writer()
	c.prevFlags = log.Flags()
	log.SetFlags(log.Lshortfile)
	log.SetOutput(&logWriter{plugin: c})
}

func (c *ClnPlugin) restoreLogging() {
	log.SetOutput(c.prevLog)
	log.SetFlags(c.prevFlags)
}
