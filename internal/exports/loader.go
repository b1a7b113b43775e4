package exports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	httpSchemePrefix           = "http://"
	httpsSchemePrefix          = "https://"
	defaultFetchTimeout        = 30 * time.Second
	maxDocumentBytes           = 64 << 20
	errMessageLoadFailure      = "export load failure"
	errMessageEmptySource      = "export source is empty"
	errMessageUnexpectedStatus = "unexpected status code"
	errMessageDocumentTooBig   = "export document exceeds size limit"
	errMessageFollowersSource  = "followers export"
	errMessageFollowingSource  = "following export"
)

var (
	// ErrLoadFailure marks an export that could not be retrieved. It is fatal to initialization.
	ErrLoadFailure = errors.New(errMessageLoadFailure)

	errEmptySource     = errors.New(errMessageEmptySource)
	errDocumentTooLong = errors.New(errMessageDocumentTooBig)
)

// Sources names where the two export documents are read from. Each value is a local path or
// an http(s) URL.
type Sources struct {
	Followers string
	Following string
}

// Loader retrieves export documents.
type Loader struct {
	client *http.Client
}

// NewLoader constructs a Loader. A nil client is replaced with one using a default timeout.
func NewLoader(client *http.Client) Loader {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return Loader{client: client}
}

// Pair holds the raw bytes of both export documents.
type Pair struct {
	Followers []byte
	Following []byte
}

// LoadPair fetches both documents concurrently. Any failure aborts the load and is reported
// as ErrLoadFailure.
func (loader Loader) LoadPair(ctx context.Context, sources Sources) (Pair, error) {
	var pair Pair
	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		data, err := loader.Load(groupContext, sources.Followers)
		if err != nil {
			return fmt.Errorf("%s: %w", errMessageFollowersSource, err)
		}
		pair.Followers = data
		return nil
	})
	group.Go(func() error {
		data, err := loader.Load(groupContext, sources.Following)
		if err != nil {
			return fmt.Errorf("%s: %w", errMessageFollowingSource, err)
		}
		pair.Following = data
		return nil
	})
	if err := group.Wait(); err != nil {
		return Pair{}, err
	}
	return pair, nil
}

// Load reads a single export document from a path or URL.
func (loader Loader) Load(ctx context.Context, source string) ([]byte, error) {
	trimmedSource := strings.TrimSpace(source)
	if trimmedSource == "" {
		return nil, wrapLoadFailure(source, errEmptySource)
	}
	if strings.HasPrefix(trimmedSource, httpSchemePrefix) || strings.HasPrefix(trimmedSource, httpsSchemePrefix) {
		data, err := loader.fetch(ctx, trimmedSource)
		if err != nil {
			return nil, wrapLoadFailure(trimmedSource, err)
		}
		return data, nil
	}
	data, err := os.ReadFile(trimmedSource)
	if err != nil {
		return nil, wrapLoadFailure(trimmedSource, err)
	}
	return data, nil
}

func (loader Loader) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	response, err := loader.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s %d", errMessageUnexpectedStatus, response.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDocumentBytes {
		return nil, errDocumentTooLong
	}
	return data, nil
}

func wrapLoadFailure(source string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrLoadFailure, source, cause)
}
