package tagger

import (
	"net/http"

	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport is an http.RoundTripper tagging each request before handing it to Base. Tagging
// is best effort: a request that cannot be tagged goes out untagged.
type Transport struct {
	Base   http.RoundTripper
	Tagger RequestTagger
	Logger *zerolog.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Tagger == nil {
		return base.RoundTrip(req)
	}

	logger := t.Logger
	if logger == nil {
		logger = &log.Logger
	}

	tagged, err := t.Tagger.Tag(req, "")
	switch {
	case err == nil:
		return base.RoundTrip(tagged)
	case errors.Is(err, apperrors.ErrMissingCredential), errors.Is(err, apperrors.ErrInvalidRequest):
		logger.Debug().Err(err).Str("domain", req.URL.Hostname()).Msg("Request sent untagged")
	default:
		logger.Warn().Err(err).Str("domain", req.URL.Hostname()).Msg("Tagging failed, request sent untagged")
	}
	return base.RoundTrip(req)
}

// Client returns an http.Client whose requests are tagged by tagger.
func Client(tagger RequestTagger, logger *zerolog.Logger) *http.Client {
	return &http.Client{Transport: &Transport{Tagger: tagger, Logger: logger}}
}
