package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Parse decodes and validates a customer document.
//
// The document must be a JSON object of objects of strings, and every URL
// must be an absolute http or https URL with a host.
func Parse(body []byte) (Data, error) {
	var data Data
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if data == nil {
		return nil, errors.New("document is empty")
	}
	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return data, nil
}

// Validate checks every customer's bots against the URL invariant.
func Validate(data Data) error {
	return validation.Validate(data,
		validation.Each(
			validation.Each(validation.Required, validation.By(absoluteHTTPURL)),
		),
	)
}

func absoluteHTTPURL(value interface{}) error {
	raw, _ := value.(string)
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use the http or https scheme")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// ValidateURL checks a single URL against the same rule as bot URLs.
func ValidateURL(raw string) error {
	return validation.Validate(raw, validation.Required, validation.By(absoluteHTTPURL))
}
