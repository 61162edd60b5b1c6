package domain

import (
	"errors"
	"strings"
)

const MaxReportDetailLen = 500

var (
	ErrReportReason       = errors.New("unknown report reason")
	ErrReportDetailNeeded = errors.New("report detail required for OTHER")
	ErrReportDetailLong   = errors.New("report detail too long")
	ErrReportTarget       = errors.New("report target missing")
)

type ReportReason string

const (
	ReportProfanity     ReportReason = "PROFANITY"
	ReportInappropriate ReportReason = "INAPPROPRIATE_BEHAVIOR"
	ReportHarassment    ReportReason = "HARASSMENT"
	ReportOther         ReportReason = "OTHER"
)

type ReportRequest struct {
	TargetNickname string       `json:"targetNickname"`
	Reason         ReportReason `json:"reason"`
	Detail         *string      `json:"detail"`
}

// NewReport trims and validates the free text. Detail is mandatory only for OTHER.
func NewReport(target string, reason ReportReason, detail string) (ReportRequest, error) {
	if strings.TrimSpace(target) == "" {
		return ReportRequest{}, ErrReportTarget
	}
	switch reason {
	case ReportProfanity, ReportInappropriate, ReportHarassment, ReportOther:
	default:
		return ReportRequest{}, ErrReportReason
	}
	detail = strings.TrimSpace(detail)
	if reason == ReportOther && detail == "" {
		return ReportRequest{}, ErrReportDetailNeeded
	}
	if len([]rune(detail)) > MaxReportDetailLen {
		return ReportRequest{}, ErrReportDetailLong
	}
	r := ReportRequest{TargetNickname: target, Reason: reason}
	if detail != "" {
		r.Detail = &detail
	}
	return r, nil
}
