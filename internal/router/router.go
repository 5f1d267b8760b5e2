// Package router classifies a VFD path string as local or remote and, for
// remote paths, extracts the protocol/host/port/options and the unix-style
// path the remote back-end expects. Grounded on fd.c's
// HdfsGetProtocol/HdfsParseOptions/ConvertToUnixPath (original_source). The
// "{...}" options block directly after "://" accepts only the single
// "replica=N" key; any other key is rejected as an invalid path.
package router

import (
	"strconv"
	"strings"

	"github.com/hhwyt/vfd/internal/vfderrors"
)

const schemeSep = "://"

// DefaultReplica is the replication factor assumed when a remote path's
// options block omits "replica=".
const DefaultReplica = 3

// Classification is the result of parsing a VFD path.
type Classification struct {
	Local    bool
	Protocol string
	Host     string
	Port     int
	Replica  int
	// UnixPath is the substring of the original path starting at the first
	// "/" following the host:port segment. Empty for Local.
	UnixPath string
}

// Endpoint returns the "host:port" key used by the connection pool.
func (c Classification) Endpoint() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Classify parses path per spec §4.1.
func Classify(path string) (Classification, error) {
	if strings.HasPrefix(path, "local://") {
		return Classification{Local: true}, nil
	}
	idx := strings.Index(path, schemeSep)
	if idx < 0 {
		return Classification{Local: true}, nil
	}

	protocol := path[:idx]
	if protocol == "" {
		return Classification{}, vfderrors.New(vfderrors.CodeInvalidPath, "Classify").
			WithPath(path).WithMessage("empty protocol")
	}

	rest := path[idx+len(schemeSep):]
	replica := DefaultReplica
	if len(rest) > 0 && rest[0] == '{' {
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return Classification{}, vfderrors.New(vfderrors.CodeInvalidPath, "Classify").
				WithPath(path).WithMessage("unterminated options block")
		}
		optBody := rest[1:end]
		if optBody != "" {
			if err := parseOption(optBody, &replica); err != nil {
				return Classification{}, err
			}
		}
		rest = rest[end+1:]
	}

	slashIdx := strings.IndexByte(rest, '/')
	var hostPort, unixPath string
	if slashIdx < 0 {
		hostPort = rest
		unixPath = ""
	} else {
		hostPort = rest[:slashIdx]
		unixPath = rest[slashIdx:]
	}

	colonIdx := strings.LastIndexByte(hostPort, ':')
	if colonIdx < 0 {
		return Classification{}, vfderrors.New(vfderrors.CodeInvalidPath, "Classify").
			WithPath(path).WithMessage("missing port")
	}
	host := hostPort[:colonIdx]
	portStr := hostPort[colonIdx+1:]
	if host == "" {
		return Classification{}, vfderrors.New(vfderrors.CodeInvalidPath, "Classify").
			WithPath(path).WithMessage("missing host")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port >= 65536 {
		return Classification{}, vfderrors.New(vfderrors.CodeInvalidPath, "Classify").
			WithPath(path).WithMessage("port must be a positive integer < 65536")
	}

	if unixPath == "" {
		return Classification{}, vfderrors.New(vfderrors.CodeInvalidPath, "Classify").
			WithPath(path).WithMessage("cannot locate unix path")
	}

	return Classification{
		Local:    false,
		Protocol: protocol,
		Host:     host,
		Port:     port,
		Replica:  replica,
		UnixPath: unixPath,
	}, nil
}

// parseOption parses the body of a "{...}" options block. Only "replica=N"
// is recognized, per spec §4.1.
func parseOption(body string, replica *int) error {
	const key = "replica="
	if !strings.HasPrefix(body, key) {
		return vfderrors.New(vfderrors.CodeInvalidPath, "Classify").
			WithMessage("unrecognized option: " + body)
	}
	n, err := strconv.Atoi(body[len(key):])
	if err != nil {
		return vfderrors.New(vfderrors.CodeInvalidPath, "Classify").
			WithMessage("invalid replica value: " + body).WithCause(err)
	}
	*replica = n
	return nil
}

// ConvertToUnixPath is exposed separately for callers that already hold a
// Classification but want to re-derive the unix path from a raw string
// (used by tests exercising fd.c parity).
func ConvertToUnixPath(path string) (string, error) {
	c, err := Classify(path)
	if err != nil {
		return "", err
	}
	if c.Local {
		return path, nil
	}
	return c.UnixPath, nil
}
