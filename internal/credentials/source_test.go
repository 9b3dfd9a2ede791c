package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	vals  []string
	errs  []error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.vals) {
		return f.vals[i], nil
	}
	return f.vals[len(f.vals)-1], nil
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer sk-123":   "sk-123",
		"bearer   sk-123": "sk-123",
		"Bearer":          "",
		"":                "",
		"sk-123":          "",
	}
	for in, want := range cases {
		require.Equal(t, want, BearerToken(in), "header=%q", in)
	}
}

func TestHeader_Resolve(t *testing.T) {
	key, err := Header{}.Resolve(context.Background(), "Bearer sk-header")
	require.NoError(t, err)
	require.Equal(t, "sk-header", key)

	key, err = Header{}.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, key)
}

func TestStatic_IgnoresHeader(t *testing.T) {
	s := NewStatic(" sk-server ")
	key, err := s.Resolve(context.Background(), "Bearer sk-header")
	require.NoError(t, err)
	require.Equal(t, "sk-server", key)

	key, err = NewStatic("").Resolve(context.Background(), "Bearer sk-header")
	require.NoError(t, err)
	require.Empty(t, key)
}

func TestNewParamStore_Validates(t *testing.T) {
	_, err := NewParamStore(nil, "/advisor/key")
	require.Error(t, err)

	_, err = NewParamStore(&fakeGetter{}, " ")
	require.Error(t, err)
}

func TestParamStore_CachesSuccessOnly(t *testing.T) {
	g := &fakeGetter{
		vals: []string{"", `{"token":"sk-from-ssm"}`},
		errs: []error{errors.New("ssm unavailable")},
	}
	p, err := NewParamStore(g, "/advisor/key")
	require.NoError(t, err)

	_, err = p.Resolve(context.Background(), "")
	require.ErrorContains(t, err, "ssm unavailable")

	key, err := p.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)

	_, _ = p.Resolve(context.Background(), "")
	require.Equal(t, 2, g.calls, "a cached key must not hit SSM again")
}

func TestParseStoredKey(t *testing.T) {
	key, err := parseStoredKey(`{"token":"sk-json"}`)
	require.NoError(t, err)
	require.Equal(t, "sk-json", key)

	key, err = parseStoredKey(" sk-plain\n")
	require.NoError(t, err)
	require.Equal(t, "sk-plain", key)

	_, err = parseStoredKey(`{"other":"value"}`)
	require.ErrorContains(t, err, "empty")

	_, err = parseStoredKey(`{"broken`)
	require.ErrorContains(t, err, "unmarshal")
}
