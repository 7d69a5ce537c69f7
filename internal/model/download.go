// Package model defines shared types for the download proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is one inbound /proxy call.
type ProxyRequest struct {
	Ctx          context.Context
	TargetURL    string
	FilenameHint string // raw, unsanitized
}

// ProxyResponse is the upstream response to be relayed.
type ProxyResponse struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

// ResolvedDownload holds the response metadata finalized right before the
// headers are written.
type ResolvedDownload struct {
	Extension   string // empty when nothing matched
	Signal      string
	Filename    string
	ContentType string
}
