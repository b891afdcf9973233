package ws

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Admission close codes.
const (
	CloseGenericFailure   = 4000
	CloseUnauthenticated  = 4001
	CloseRoomNotFound     = 4002
	CloseNotAParticipant  = 4003
	admissionReasonMaxLen = 120
)

// AdmissionError refuses a connection before it joins a room.
type AdmissionError struct {
	Code   int
	Reason string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission refused (%d): %s", e.Code, e.Reason)
}

func refuse(code int, reason string) *AdmissionError {
	if len(reason) > admissionReasonMaxLen {
		reason = reason[:admissionReasonMaxLen]
	}
	return &AdmissionError{Code: code, Reason: reason}
}

func newConnID() string {
	return ulid.Make().String()
}

// DecodeRoomName percent-decodes a room path segment.
func DecodeRoomName(raw string) (string, error) {
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(name), nil
}

// bearerToken reads the caller's token from the Authorization header or,
// for browser clients that cannot set headers, the token query parameter.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
