package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"token":"v"}`), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " p ")
	require.NoError(t, err)
	require.Equal(t, `{"token":"v"}`, v)
	require.Equal(t, "p", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_Errors(t *testing.T) {
	cases := map[string]struct {
		client *Client
		name   string
		want   string
	}{
		"missing value":   {&Client{api: &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}}}, "p", "missing value"},
		"api error":       {&Client{api: &fakeAPI{getErr: errors.New("boom")}}, "p", "boom"},
		"not initialized": {&Client{}, "p", "not initialized"},
		"empty name":      {&Client{api: &fakeAPI{}}, "  ", "required"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.client.GetParameter(context.Background(), tc.name)
			require.Error(t, err)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestGetParameter_NotFound(t *testing.T) {
	client, err := New(&fakeAPI{getErr: &types.ParameterNotFound{}})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "/agent/stores/x/access-token")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

// fakeGetter is a minimal Getter stub.
type fakeGetter struct {
	vals  map[string]string
	err   error
	calls int
	names []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	f.names = append(f.names, name)
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.vals[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func TestReadToken(t *testing.T) {
	cases := map[string]struct {
		getter Getter
		name   string
		want   string
		errIs  error
		errMsg string
	}{
		"json token":    {&fakeGetter{vals: map[string]string{"/p/t": `{"token":"sk-1"}`}}, "/p/t", "sk-1", nil, ""},
		"missing field": {&fakeGetter{vals: map[string]string{"/p/t": `{"other":"x"}`}}, "/p/t", "", ErrEmptyToken, ""},
		"malformed":     {&fakeGetter{vals: map[string]string{"/p/t": `{"broken`}}, "/p/t", "", nil, "unmarshal"},
		"getter error":  {&fakeGetter{err: errors.New("ssm unavailable")}, "/p/t", "", nil, "ssm unavailable"},
		"nil getter":    {nil, "/p/t", "", nil, "nil"},
		"empty name":    {&fakeGetter{}, " ", "", nil, "empty"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ReadToken(context.Background(), tc.getter, tc.name)
			if tc.want != "" {
				require.NoError(t, err)
				require.Equal(t, tc.want, got)
				return
			}
			require.Error(t, err)
			if tc.errIs != nil {
				require.ErrorIs(t, err, tc.errIs)
			}
			if tc.errMsg != "" {
				require.ErrorContains(t, err, tc.errMsg)
			}
		})
	}
}
