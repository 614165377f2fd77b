package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"FinStore/internal/domain/models"
	"FinStore/pkg/codec"
)

// errStop ends a stream early without reporting an error.
var errStop = errors.New("store: stop stream")

// Encode serializes state in the store format. Map keys are emitted sorted, so equal states
// encode to equal bytes.
func Encode(state *models.RollingState) ([]byte, error) {
	return codec.Marshal(state)
}

// Decode is the inverse of Encode.
func Decode(b []byte) (*models.RollingState, error) {
	state := &models.RollingState{}
	if err := codec.Unmarshal(b, state); err != nil {
		return nil, err
	}
	if state.Records == nil {
		state.Records = make(map[string]models.PredictionRecord)
	}
	return state, nil
}

// decodeStream walks a compressed state token by token. onHeader is called once, when the
// records object starts; onRecord is called per record. Either may return errStop.
func decodeStream(ctx context.Context, r io.Reader, onHeader func(models.Header) error, onRecord func(models.PredictionRecord) error) (models.Header, error) {
	var h models.Header

	dec, closeFn, err := codec.NewStreamDecoder(r)
	if err != nil {
		return h, err
	}
	defer closeFn()

	if err := expectDelim(dec, '{'); err != nil {
		return h, err
	}

	headerSent := false
	sendHeader := func() error {
		if headerSent {
			return nil
		}
		headerSent = true
		if onHeader == nil {
			return nil
		}
		return onHeader(h)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return h, fmt.Errorf("read key: %w", err)
		}
		key, _ := tok.(string)

		switch key {
		case "resource":
			err = dec.Decode(&h.Resource)
		case "version":
			err = dec.Decode(&h.Version)
		case "updated_at":
			err = dec.Decode(&h.UpdatedAt)
		case "records":
			if err := sendHeader(); err != nil {
				return h, err
			}
			err = streamRecords(ctx, dec, onRecord)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return h, err
		}
	}
	if err := sendHeader(); err != nil {
		return h, err
	}
	return h, nil
}

func streamRecords(ctx context.Context, dec *json.Decoder, onRecord func(models.PredictionRecord) error) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("records: unexpected token %v", tok)
	}

	for n := 0; dec.More(); n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read symbol: %w", err)
		}
		var rec models.PredictionRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("decode record %v: %w", keyTok, err)
		}
		if rec.Symbol == "" {
			rec.Symbol, _ = keyTok.(string)
		}
		if onRecord != nil {
			if err := onRecord(rec); err != nil {
				return err
			}
		}
	}
	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
