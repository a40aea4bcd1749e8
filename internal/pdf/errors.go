// Package pdf は組版ファイルの変換、PDFの最適化、ページのラスタライズを提供します。
package pdf

import (
	"errors"
	"fmt"
)

// エラーコード
const (
	CodeConversionFailed    = "CONVERSION_FAILED"
	CodeRasterizationFailed = "RASTERIZATION_FAILED"
	CodeOptimizationFailed  = "OPTIMIZATION_FAILED"
	CodeUnsupportedSource   = "UNSUPPORTED_SOURCE"
)

// Error はコード付きのPDF処理エラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConversionError は変換段階の失敗かどうかを返します。
func IsConversionError(err error) bool {
	return hasCode(err, CodeConversionFailed) || hasCode(err, CodeUnsupportedSource)
}

// IsRasterizationError はラスタライズ段階の失敗かどうかを返します。
func IsRasterizationError(err error) bool {
	return hasCode(err, CodeRasterizationFailed)
}

// IsOptimizationError は最適化段階の失敗かどうかを返します。
func IsOptimizationError(err error) bool {
	return hasCode(err, CodeOptimizationFailed)
}

func hasCode(err error, code string) bool {
	var pdfErr *Error
	return errors.As(err, &pdfErr) && pdfErr.Code == code
}
