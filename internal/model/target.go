package model

import (
	"fmt"
	"strings"
)

// Target identifies a remote server's web endpoint.
type Target struct {
	Name       string `json:"name"`
	Scheme     string `json:"scheme,omitempty"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	PathPrefix string `json:"pathPrefix,omitempty"`
}

// BaseURL returns the HTTP base URL of the target, without a trailing slash.
func (t Target) BaseURL() string {
	scheme := t.Scheme
	if scheme == "" {
		scheme = "http"
	}
	prefix := strings.TrimRight(t.PathPrefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, t.Host, t.Port, prefix)
}

// Credentials hold the username and password for a target.
type Credentials struct {
	Username string `json:"-"`
	Password string `json:"-"`
}

// AuthContext carries session cookies obtained by earlier authenticated
// REST calls. They are passed verbatim to the evaluator connection.
type AuthContext struct {
	Cookies []string
}
