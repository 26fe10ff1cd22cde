package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// httpResponse is a detached copy of a fasthttp response
type httpResponse struct {
	status int
	body   []byte
}

// transportError means the request never produced an HTTP response
type transportError struct {
	url string
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.url, e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}

func isTransportError(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// do executes one request bounded by the context deadline, or timeout when ctx has none
func do(ctx context.Context, c *fasthttp.Client, timeout time.Duration, method, url string, headers map[string]string, body []byte) (*httpResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &transportError{url: url, err: err}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.DoDeadline(req, resp, deadline)
	} else {
		err = c.DoTimeout(req, resp, timeout)
	}
	if err != nil {
		return nil, &transportError{url: url, err: err}
	}

	return &httpResponse{
		status: resp.StatusCode(),
		body:   append([]byte(nil), resp.Body()...),
	}, nil
}

// errorMessage extracts a readable message from an API error body
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Reason != "":
			return payload.Reason
		case payload.Error != "":
			return payload.Error
		}
	}
	if len(body) > 256 {
		return string(body[:256])
	}
	return string(body)
}
