package sqlserver

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// ParseInterfaces reads a freetds.conf style server list:
//
//	[myserver]
//	    host = db.example.com
//	    port = 1433
//	    instance = SQLEXPRESS
//
// and returns the address of every section keyed by lower-cased name, as
// host:port or host\instance. The [global] section is skipped.
func ParseInterfaces(r io.Reader) (map[string]string, error) {
	type entry struct {
		host, port, instance string
	}

	entries := make(map[string]*entry)
	var current *entry
	var name string

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text[0] == '#' || text[0] == ';' {
			continue
		}

		if text[0] == '[' {
			if !strings.HasSuffix(text, "]") {
				return nil, fmt.Errorf("line %d: unterminated section header", line)
			}
			name = strings.ToLower(strings.TrimSpace(text[1 : len(text)-1]))
			if name == "global" {
				current = nil
				continue
			}
			current = &entry{}
			entries[name] = current
			continue
		}

		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value", line)
		}
		if current == nil {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "host":
			current.host = value
		case "port":
			if _, err := strconv.Atoi(value); err != nil {
				return nil, fmt.Errorf("line %d: invalid port %q", line, value)
			}
			current.port = value
		case "instance":
			current.instance = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(entries))
	for name, e := range entries {
		if e.host == "" {
			return nil, fmt.Errorf("server %q has no host", name)
		}
		switch {
		case e.instance != "":
			out[name] = e.host + `\` + e.instance
		case e.port != "":
			out[name] = net.JoinHostPort(e.host, e.port)
		default:
			out[name] = net.JoinHostPort(e.host, strconv.Itoa(DefaultPort))
		}
	}
	return out, nil
}
