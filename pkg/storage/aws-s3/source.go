package awss3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage/source"
)

// Source reads ranges of one object using the backend's IAM identity.
type Source struct {
	client s3iface.S3API
	bucket string
	key    string
}

func (src *Source) Key() string {
	return "s3://" + src.bucket + "/" + src.key
}

func (src *Source) FetchRange(ctx context.Context, req s.RangeRequest) (s.RangeResponse, error) {
	if err := source.Validate(req); err != nil {
		return s.RangeResponse{}, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(src.bucket),
		Key:    aws.String(src.key),
		Range:  aws.String(req.Header()),
	}
	if req.IfMatchETag != "" {
		input.IfMatch = aws.String(req.IfMatchETag)
	}

	out, err := src.client.GetObjectWithContext(ctx, input)
	if err != nil {
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
			return s.RangeResponse{Data: []byte{}}, nil
		}
		return s.RangeResponse{}, classifyError(src.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, int64(req.Length)))
	if err != nil {
		return s.RangeResponse{}, &e.TransportError{Key: src.key, Status: http.StatusPartialContent, Err: err}
	}

	resp := s.RangeResponse{
		Data:         data,
		ETag:         aws.StringValue(out.ETag),
		CacheControl: aws.StringValue(out.CacheControl),
	}
	if out.Expires != nil {
		if expires, err := http.ParseTime(*out.Expires); err == nil {
			resp.Expires = &expires
		}
	}
	return resp, nil
}

func classifyError(key string, err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.StatusCode() == http.StatusPreconditionFailed:
			return fmt.Errorf("%s: %w", key, e.ErrEtagMismatch)
		case reqErr.StatusCode() == http.StatusNotFound, reqErr.Code() == s3.ErrCodeNoSuchKey:
			return fmt.Errorf("%s: %w", key, e.ErrArchiveUnavailable)
		}
		return &e.TransportError{Key: key, Status: reqErr.StatusCode(), Err: err}
	}

	var aErr awserr.Error
	if errors.As(err, &aErr) && aErr.Code() == request.CanceledErrorCode {
		return &e.TransportError{Key: key, Err: fmt.Errorf("%v: %w", err, context.Canceled)}
	}
	return &e.TransportError{Key: key, Err: err}
}
