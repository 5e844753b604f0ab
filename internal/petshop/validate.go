package petshop

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	apierrors "github.com/wudi/petshop/internal/errors"
	"github.com/wudi/petshop/internal/store"
)

// decode validates a pet document and fills defaults before unmarshalling.
// requireID is set for updates.
func (s *Service) decode(body []byte, requireID bool) (store.Pet, error) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return store.Pet{}, s.invalid("body is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return store.Pet{}, s.invalid("body must be a JSON object")
	}

	id := doc.Get("id")
	switch {
	case id.Exists() && (id.Type != gjson.Number || id.Int() < 0 || float64(id.Int()) != id.Num):
		return store.Pet{}, s.invalid("id must be a non-negative integer")
	case requireID && id.Int() == 0:
		return store.Pet{}, s.invalid("id is required")
	}

	if name := doc.Get("name"); name.Type != gjson.String || name.Str == "" {
		return store.Pet{}, s.invalid("name is required")
	}

	photos := doc.Get("photoUrls")
	if !photos.IsArray() {
		return store.Pet{}, s.invalid("photoUrls must be an array")
	}
	for i, p := range photos.Array() {
		if p.Type != gjson.String {
			return store.Pet{}, s.invalid(fmt.Sprintf("photoUrls[%d] must be a string", i))
		}
	}

	if tags := doc.Get("tags"); tags.Exists() {
		if !tags.IsArray() {
			return store.Pet{}, s.invalid("tags must be an array")
		}
		for i, t := range tags.Array() {
			if t.Get("name").Type != gjson.String {
				return store.Pet{}, s.invalid(fmt.Sprintf("tags[%d].name must be a string", i))
			}
		}
	}

	if c := doc.Get("category"); c.Exists() && c.Type != gjson.Null && !c.IsObject() {
		return store.Pet{}, s.invalid("category must be an object")
	}

	status := doc.Get("status")
	if !status.Exists() {
		var err error
		if body, err = sjson.SetBytes(body, "status", string(store.StatusAvailable)); err != nil {
			return store.Pet{}, s.invalid(err.Error())
		}
	} else if status.Type != gjson.String || !store.Status(status.Str).Valid() {
		return store.Pet{}, s.invalid("status must be one of available, pending, sold")
	}

	if err := s.checkSchema(body); err != nil {
		return store.Pet{}, err
	}

	var pet store.Pet
	if err := json.Unmarshal(body, &pet); err != nil {
		return store.Pet{}, s.invalid(err.Error())
	}
	return pet, nil
}

// invalid counts a validation failure and returns the client error.
func (s *Service) invalid(details string) error {
	if s.validation != nil {
		s.validation.ValidationError()
	}
	return apierrors.ErrValidation.WithDetails(details)
}
