package upstream

import (
	"fmt"
	"strings"

	"github.com/opencardata/cardata-bridge/pkg/log"
)

// pahoLog implements the paho.Logger interface, routing the library's
// internals into the structured log at debug level.
type pahoLog struct {
	prefix string
}

func (l pahoLog) Println(v ...any) {
	log.Debug(strings.TrimSuffix(fmt.Sprintln(v...), "\n"), "component", l.prefix)
}

func (l pahoLog) Printf(format string, v ...any) {
	log.Debug(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"), "component", l.prefix)
}
