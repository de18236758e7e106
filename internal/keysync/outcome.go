package keysync

import (
	"errors"
	"time"

	"github.com/kamikazebr/keydist/internal/config"
	"github.com/kamikazebr/keydist/internal/fetch"
	"github.com/kamikazebr/keydist/internal/keyset"
	"github.com/kamikazebr/keydist/internal/truststore"
)

// Kind classifies why a sync attempt failed
type Kind string

const (
	KindNone                     Kind = ""
	KindUnsupportedPlatform      Kind = "UnsupportedPlatform"
	KindCannotEnforcePermissions Kind = "CannotEnforcePermissions"
	KindTransportError           Kind = "TransportError"
	KindHTTPError                Kind = "HttpError"
	KindInvalidURL               Kind = "InvalidUrl"
	KindDecodeFailure            Kind = "DecodeFailure"
	KindIOWriteError             Kind = "IOWriteError"
	KindConfigInvalid            Kind = "ConfigInvalid"
	KindUnknown                  Kind = "Unknown"
)

// Stage is a step of a sync attempt
type Stage string

const (
	StageLocate     Stage = "locate"
	StageCheckPerms Stage = "check_perms"
	StageFetch      Stage = "fetch"
	StageExtract    Stage = "extract"
	StageReconcile  Stage = "reconcile"
	StageReport     Stage = "report"
)

// Outcome is the single result of one sync attempt
type Outcome struct {
	ID        string             `json:"id"`
	Success   bool               `json:"success"`
	Kind      Kind               `json:"kind,omitempty"`
	Stage     Stage              `json:"stage"`
	Message   string             `json:"message"`
	KeysFile  string             `json:"keys_file,omitempty"`
	Result    *truststore.Result `json:"-"`
	Err       error              `json:"-"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
}

// Classify maps a component error to its Kind
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		permErr      *truststore.PermissionError
		writeErr     *truststore.WriteError
		urlErr       *fetch.InvalidURLError
		transportErr *fetch.TransportError
		httpErr      *fetch.HTTPError
		decodeErr    *keyset.DecodeError
		configErr    *config.ValidationError
	)

	switch {
	case errors.Is(err, truststore.ErrUnsupportedPlatform):
		return KindUnsupportedPlatform
	case errors.As(err, &permErr):
		return KindCannotEnforcePermissions
	case errors.As(err, &urlErr):
		return KindInvalidURL
	case errors.As(err, &httpErr):
		return KindHTTPError
	case errors.As(err, &transportErr):
		return KindTransportError
	case errors.As(err, &decodeErr):
		return KindDecodeFailure
	case errors.As(err, &writeErr):
		return KindIOWriteError
	case errors.As(err, &configErr):
		return KindConfigInvalid
	default:
		return KindUnknown
	}
}
