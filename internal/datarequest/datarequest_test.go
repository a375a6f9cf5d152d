package datarequest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

const locationsCSV = "id,locationName,occupied,score\n" +
	"11,Home,true,1.5\n" +
	"12,Cabin,False,2\n"

const devicesCSV = "locationId,deviceId,batteryLevel\n" +
	"11,dev-a,90\n" +
	"11,dev-b,80\n" +
	"12,dev-c,70\n"

func lz4Block(t *testing.T, plain []byte) []byte {
	t.Helper()
	buf := make([]byte, lz4.CompressBlockBound(len(plain)))
	var c lz4.Compressor
	n, err := c.CompressBlock(plain, buf)
	require.NoError(t, err)
	require.Positive(t, n)
	return buf[:n]
}

func TestDecompressLZ4RoundTrip(t *testing.T) {
	t.Parallel()
	plain := []byte(locationsCSV + locationsCSV + locationsCSV)
	out, err := Decompress(Item{DataLength: int64(len(plain))}, lz4Block(t, plain))
	require.NoError(t, err)
	require.Equal(t, plain, out)

	_, err = Decompress(Item{}, lz4Block(t, plain))
	require.Error(t, err)
}

func TestDecompressZstdAndNone(t *testing.T) {
	t.Parallel()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	plain := []byte(devicesCSV)
	packed := enc.EncodeAll(plain, nil)
	require.NoError(t, enc.Close())

	out, err := Decompress(Item{Compression: "zstd"}, packed)
	require.NoError(t, err)
	require.Equal(t, plain, out)

	out, err = Decompress(Item{Compression: "none"}, plain)
	require.NoError(t, err)
	require.Equal(t, plain, out)

	_, err = Decompress(Item{Compression: "brotli"}, plain)
	require.ErrorIs(t, err, ErrCompression)
}

func TestShapeLocations(t *testing.T) {
	t.Parallel()
	got, err := Shape(TypeLocations, []byte(locationsCSV))
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"11": map[string]any{"location_name": "Home", "occupied": true, "score": 1.5},
		"12": map[string]any{"location_name": "Cabin", "occupied": false, "score": int64(2)},
	}, got)
}

func TestShapeDevices(t *testing.T) {
	t.Parallel()
	got, err := Shape(TypeDevices, []byte(devicesCSV))
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"11": map[string]any{
			"dev-a": map[string]any{"battery_level": int64(90)},
			"dev-b": map[string]any{"battery_level": int64(80)},
		},
		"12": map[string]any{"dev-c": map[string]any{"battery_level": int64(70)}},
	}, got)

	_, err = Shape(TypeDevices, []byte("deviceId\nx\n"))
	require.Error(t, err)
}

func TestShapeOther(t *testing.T) {
	t.Parallel()
	got, err := Shape("other", []byte("raw"))
	require.NoError(t, err)
	require.Equal(t, "raw", got)
}

func TestSnakeCaseAndNormalize(t *testing.T) {
	t.Parallel()
	require.Equal(t, "device_id", SnakeCase("deviceId"))
	require.Equal(t, "location_name", SnakeCase("LocationName"))
	require.Equal(t, "id", SnakeCase("id"))

	require.Equal(t, int64(-3), Normalize("-3"))
	require.Equal(t, 2.25, Normalize("2.25"))
	require.Equal(t, true, Normalize("True"))
	require.Equal(t, "inf", Normalize("inf"))
	require.Equal(t, "", Normalize(""))
}

func TestCollectGroupsByReference(t *testing.T) {
	t.Parallel()
	payloads := map[string][]byte{
		"u1": []byte(locationsCSV),
		"u2": []byte(devicesCSV),
		"u3": []byte("id\n99\n"),
	}
	f := FetcherFunc(func(_ context.Context, url string) ([]byte, error) {
		if b, ok := payloads[url]; ok {
			return b, nil
		}
		return nil, errors.New("not found")
	})
	items := []Item{
		{Key: "locs", URL: "u1", Type: TypeLocations, Compression: "none"},
		{Key: "devs", URL: "u2", Type: TypeDevices, Compression: "none"},
		{Key: "locs", URL: "u3", Type: TypeLocations, Compression: "none"},
		{Key: "broken", URL: "missing", Type: TypeDevices, Compression: "none"},
	}

	groups, err := Collect(context.Background(), f, items, logx.Nop())
	require.NoError(t, err)
	require.Len(t, groups, 3)
	require.Equal(t, "locs", groups[0].Reference)
	require.Len(t, groups[0].Content, 3)
	require.Equal(t, "devs", groups[1].Reference)
	require.Equal(t, "broken", groups[2].Reference)
	require.Nil(t, groups[2].Content)
	require.Equal(t, []string{"broken", "devs", "locs"}, References(groups))

	_, err = Collect(context.Background(), nil, items, logx.Nop())
	require.ErrorIs(t, err, ErrNoFetcher)
}

func TestHTTPFetcherRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(10*time.Second, 3)
	b, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "payload", string(b))
	require.Equal(t, int32(2), calls.Load())
}

func TestHTTPFetcherPermanentFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(5*time.Second, 3).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}
