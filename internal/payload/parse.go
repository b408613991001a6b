package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidPayload wraps every schema failure. The whole delivery is rejected.
var ErrInvalidPayload = errors.New("invalid payload")

var (
	hexDataPattern = regexp.MustCompile(`^0x([0-9a-fA-F]{2})*$`)
	hash32Pattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	// required on a struct field rejects the zero struct, i.e. an absent object.
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("hexdata", func(fl validator.FieldLevel) bool {
		return hexDataPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("hash32", func(fl validator.FieldLevel) bool {
		return hash32Pattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("evmaddr", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
	})
	return v
}

// Parse decodes and validates a raw delivery body into its concrete shape.
func Parse(body []byte) (Delivery, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var d Delivery
	switch probe.Type {
	case KindGraphQL:
		d = &GraphQLDelivery{}
	case KindAddressActivity:
		d = &ActivityDelivery{}
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidPayload, probe.Type)
	}

	if err := json.Unmarshal(body, d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(d); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, describe(err))
	}
	return d, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
