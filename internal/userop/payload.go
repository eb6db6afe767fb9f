package userop

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/citizenwallet/aa-gateway/internal/common"
	aa "github.com/citizenwallet/aa-gateway/pkg/userop"
	"github.com/jellydator/validation"
)

var (
	addressRegex  = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	quantityRegex = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)
	bytesRegex    = regexp.MustCompile(`^0x[a-fA-F0-9]*$`)
	hashRegex     = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

const (
	msgChainID = "Chain ID must be a positive integer"
	msgHash    = "Invalid userOpHash format"
	msgBody    = "Invalid JSON body"
	msgTooBig  = "Request body too large"
)

// fieldMessages holds the message reported for each user operation field
var fieldMessages = map[string]string{
	"sender":                        "Invalid sender address",
	"nonce":                         "Invalid nonce format",
	"callData":                      "Invalid callData format",
	"callGasLimit":                  "Invalid callGasLimit format",
	"verificationGasLimit":          "Invalid verificationGasLimit format",
	"preVerificationGas":            "Invalid preVerificationGas format",
	"maxFeePerGas":                  "Invalid maxFeePerGas format",
	"maxPriorityFeePerGas":          "Invalid maxPriorityFeePerGas format",
	"signature":                     "Invalid signature format",
	"factory":                       "Invalid factory address",
	"factoryData":                   "Invalid factoryData format",
	"paymaster":                     "Invalid paymaster address",
	"paymasterData":                 "Invalid paymasterData format",
	"paymasterVerificationGasLimit": "Invalid paymasterVerificationGasLimit format",
	"paymasterPostOpGasLimit":       "Invalid paymasterPostOpGasLimit format",
	"chainId":                       msgChainID,
	"userOp":                        "Invalid userOp object",
}

func required(field string, re *regexp.Regexp) []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(field + " is required"),
		validation.Match(re).Error(fieldMessages[field]),
	}
}

func optional(field string, re *regexp.Regexp) []validation.Rule {
	return []validation.Rule{
		validation.NilOrNotEmpty.Error(fieldMessages[field]),
		validation.Match(re).Error(fieldMessages[field]),
	}
}

func validateUserOp(op *aa.UserOperation, requireSignature bool) error {
	signature := []validation.Rule{validation.Match(bytesRegex).Error(fieldMessages["signature"])}
	if requireSignature {
		signature = required("signature", bytesRegex)
	}

	return validation.ValidateStruct(op,
		validation.Field(&op.Sender, required("sender", addressRegex)...),
		validation.Field(&op.Nonce, required("nonce", quantityRegex)...),
		validation.Field(&op.CallData, required("callData", bytesRegex)...),
		validation.Field(&op.CallGasLimit, required("callGasLimit", quantityRegex)...),
		validation.Field(&op.VerificationGasLimit, required("verificationGasLimit", quantityRegex)...),
		validation.Field(&op.PreVerificationGas, required("preVerificationGas", quantityRegex)...),
		validation.Field(&op.MaxFeePerGas, required("maxFeePerGas", quantityRegex)...),
		validation.Field(&op.MaxPriorityFeePerGas, required("maxPriorityFeePerGas", quantityRegex)...),
		validation.Field(&op.Signature, signature...),
		validation.Field(&op.Factory, optional("factory", addressRegex)...),
		validation.Field(&op.FactoryData, optional("factoryData", bytesRegex)...),
		validation.Field(&op.Paymaster, optional("paymaster", addressRegex)...),
		validation.Field(&op.PaymasterData, optional("paymasterData", bytesRegex)...),
		validation.Field(&op.PaymasterVerificationGasLimit, optional("paymasterVerificationGasLimit", quantityRegex)...),
		validation.Field(&op.PaymasterPostOpGasLimit, optional("paymasterPostOpGasLimit", quantityRegex)...),
	)
}

func validChainID() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(msgChainID),
		validation.Min(int64(1)).Error(msgChainID),
	}
}

// SponsorRequest is the body of POST /user-operations/sponsor. The
// operation does not need to be signed yet.
type SponsorRequest struct {
	UserOp  aa.UserOperation `json:"userOp"`
	ChainID int64            `json:"chainId"`
}

func (r SponsorRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserOp, validation.By(func(any) error {
			return validateUserOp(&r.UserOp, false)
		})),
		validation.Field(&r.ChainID, validChainID()...),
	)
}

// SendRequest is the body of POST /user-operations
type SendRequest struct {
	UserOp  aa.UserOperation `json:"userOp"`
	ChainID int64            `json:"chainId"`
}

func (r SendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserOp, validation.By(func(any) error {
			return validateUserOp(&r.UserOp, true)
		})),
		validation.Field(&r.ChainID, validChainID()...),
	)
}

// ValidateHash checks the hash path parameter
func ValidateHash(hash string) error {
	err := validation.Validate(hash,
		validation.Required.Error(msgHash),
		validation.Match(hashRegex).Error(msgHash),
	)
	if err != nil {
		return common.Violations{{Field: "hash", Message: err.Error()}}
	}
	return nil
}

// DecodeAndValidate reads a JSON body into object and validates it. Every
// problem is reported as common.Violations.
func DecodeAndValidate(r *http.Request, object validation.Validatable) error {
	defer r.Body.Close()

	err := json.NewDecoder(r.Body).Decode(object)
	if err != nil {
		return decodeViolations(err)
	}

	return violations(object.Validate())
}

func decodeViolations(err error) error {
	var typeErr *json.UnmarshalTypeError
	var sizeErr *http.MaxBytesError

	switch {
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}

		msg, ok := fieldMessages[field[strings.LastIndex(field, ".")+1:]]
		if !ok {
			msg = fmt.Sprintf("expected %s", typeErr.Type)
		}

		return common.Violations{{Field: field, Message: msg}}
	case errors.As(err, &sizeErr):
		return common.Violations{{Field: "body", Message: msgTooBig}}
	default:
		return common.Violations{{Field: "body", Message: msgBody}}
	}
}

// violations flattens nested validation errors into dotted field paths
func violations(err error) error {
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}

	var out common.Violations
	flatten("", errs, &out)

	sort.Slice(out, func(i, j int) bool {
		return out[i].Field < out[j].Field
	})

	return out
}

func flatten(prefix string, errs validation.Errors, out *common.Violations) {
	for field, err := range errs {
		path := field
		if prefix != "" {
			path = prefix + "." + field
		}

		var nested validation.Errors
		if errors.As(err, &nested) {
			flatten(path, nested, out)
			continue
		}

		*out = append(*out, common.Violation{Field: path, Message: err.Error()})
	}
}
