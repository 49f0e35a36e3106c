package handlers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rmitchellscott/tankobon/internal/ingest"
)

// bindError turns a failed JSON bind into an ingest error with a
// user-friendly message. Missing required fields are MissingField; anything
// else is a malformed body.
func bindError(op string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, ve := range verrs {
			if ve.Tag() != "required" {
				continue
			}
			switch ve.Field() {
			case "SourceHTMLPath":
				return &ingest.Error{Kind: ingest.KindMissingField, Op: op, Msg: "Missing sourceHtmlPath", Err: err}
			case "SeriesID":
				return &ingest.Error{Kind: ingest.KindMissingField, Op: op, Msg: "Missing seriesId", Err: err}
			}
		}
	}
	return &ingest.Error{Kind: ingest.KindMalformedRequest, Op: op, Msg: "Invalid request body", Err: err}
}
