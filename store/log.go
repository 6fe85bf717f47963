package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Log is one structured log line, hand-encoded to JSON the same way
// spilldb/db.Log is: cheap to produce, readable in a terminal, and
// free of a third-party structured-logging dependency.
type Log struct {
	Where    string
	What     string
	When     time.Time
	Duration time.Duration
	Err      error
	Data     map[string]interface{}
}

func (l Log) String() string {
	buf := new(strings.Builder)
	fmt.Fprintf(buf, `{"where": %q, "what": %q, `, l.Where, l.What)

	buf.WriteString(`"when": "`)
	buf.Write(l.When.AppendFormat(make([]byte, 0, 64), time.RFC3339Nano))
	buf.WriteString(`"`)

	fmt.Fprintf(buf, `, "duration": "%s"`, l.Duration)

	if l.Err != nil {
		fmt.Fprintf(buf, `, "err": %q`, l.Err.Error())
	}
	if len(l.Data) > 0 {
		b, err := json.Marshal(l.Data)
		if err != nil {
			fmt.Fprintf(buf, `, "data_marshal_err": %q`, err.Error())
		} else {
			fmt.Fprintf(buf, `, "data": %s`, b)
		}
	}
	buf.WriteByte('}')
	return buf.String()
}

// Logf is the dependency-free structured-ish logging hook used
// throughout this module: every package that needs to log takes one
// of these rather than importing a logging library directly.
type Logf func(format string, args ...interface{})
