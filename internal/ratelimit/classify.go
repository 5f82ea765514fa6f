// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
)

const quotaFailureType = "type.googleapis.com/google.rpc.QuotaFailure"

// Info describes a 429 response.
type Info struct {
	// QuotaID names the violated quota, if the response said which.
	QuotaID string

	// RetryDelay is the server-suggested wait, zero when absent.
	RetryDelay time.Duration
}

// Daily reports whether the violated quota resets per day.
func (i Info) Daily() bool {
	return strings.Contains(strings.ToLower(i.QuotaID), "perday")
}

// Classify reports whether err is a 429-equivalent response and extracts its
// quota and retry details. REST errors are read from the googleapi error
// details; gRPC errors are read through gax's APIError.
func Classify(err error) (Info, bool) {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code != http.StatusTooManyRequests {
			return Info{}, false
		}
		return infoFromDetails(gerr.Details), true
	}

	ae, ok := apierror.FromError(err)
	if !ok {
		return Info{}, false
	}
	exhausted := ae.HTTPCode() == http.StatusTooManyRequests
	if st := ae.GRPCStatus(); st != nil && st.Code() == codes.ResourceExhausted {
		exhausted = true
	}
	if !exhausted {
		return Info{}, false
	}

	var info Info
	details := ae.Details()
	if qf := details.QuotaFailure; qf != nil {
		for _, v := range qf.GetViolations() {
			for _, id := range []string{v.GetSubject(), v.GetDescription()} {
				if id == "" {
					continue
				}
				if info.QuotaID == "" || (!info.Daily() && strings.Contains(strings.ToLower(id), "perday")) {
					info.QuotaID = id
				}
			}
		}
	}
	if ri := details.RetryInfo; ri != nil && ri.GetRetryDelay() != nil {
		info.RetryDelay = ri.GetRetryDelay().AsDuration()
	}
	return info, true
}

// infoFromDetails reads the JSON error details of a REST response:
// a QuotaFailure entry's violations[].quotaId (or quotaMetric) and any
// entry's retryDelay ("12s" style).
func infoFromDetails(details []any) Info {
	var info Info
	for _, d := range details {
		item, ok := d.(map[string]any)
		if !ok {
			continue
		}

		if info.RetryDelay == 0 {
			if s, ok := item["retryDelay"].(string); ok {
				info.RetryDelay = parseDelay(s)
			}
		}

		if info.QuotaID != "" || item["@type"] != quotaFailureType {
			continue
		}
		violations, _ := item["violations"].([]any)
		for _, v := range violations {
			vm, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if id := firstString(vm, "quotaId", "quotaMetric"); id != "" {
				info.QuotaID = id
				break
			}
		}
	}
	return info
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// parseDelay converts a duration string with a trailing "s" unit, such as
// "12s" or "0.5s". Anything else yields zero.
func parseDelay(s string) time.Duration {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "s") {
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
