package lwm2m

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classifyReq(t *testing.T, code CoapCode, segs []string, opts ...CoapOption) Operation {
	t.Helper()
	m := &Message{Code: code}
	for _, s := range segs {
		m.Options = append(m.Options, OptStr(OptUriPath, s))
	}
	m.Options = append(m.Options, opts...)
	op, err := Classify(m, RoleClient)
	require.NoError(t, err)
	return op
}

func TestClassifyReadAndDiscover(t *testing.T) {
	op := classifyReq(t, CoapCodeGet, []string{"3", "0", "1"})
	assert.Equal(t, OpRead, op.Kind)
	assert.Equal(t, ResourcePath(3, 0, 1), op.Path)

	op = classifyReq(t, CoapCodeGet, []string{"3"}, OptUint(OptAccept, ContentFormatLinkFormat))
	assert.Equal(t, OpDiscover, op.Kind)
}

func TestClassifyObserveStartAndCancel(t *testing.T) {
	op := classifyReq(t, CoapCodeGet, []string{"3303", "0", "5700"}, OptUint(OptObserve, 0))
	assert.Equal(t, OpObserveStart, op.Kind)

	op = classifyReq(t, CoapCodeGet, []string{"3303", "0", "5700"}, OptUint(OptObserve, 1))
	assert.Equal(t, OpObserveCancel, op.Kind)
}

func TestClassifyWriteReplaceVsWriteAttributes(t *testing.T) {
	op := classifyReq(t, CoapCodePut, []string{"3", "0", "13"})
	assert.Equal(t, OpWriteReplace, op.Kind)

	op = classifyReq(t, CoapCodePut, []string{"3303", "0", "5700"}, OptStr(OptUriQuery, "pmin=5"), OptStr(OptUriQuery, "pmax=60"))
	assert.Equal(t, OpWriteAttributes, op.Kind)
}

func TestClassifyCreateExecuteAndPartialUpdate(t *testing.T) {
	op := classifyReq(t, CoapCodePost, []string{"3303"})
	assert.Equal(t, OpCreate, op.Kind)

	op = classifyReq(t, CoapCodePost, []string{"3", "0", "4"})
	assert.Equal(t, OpExecute, op.Kind)

	op = classifyReq(t, CoapCodePost, []string{"3", "0"})
	assert.Equal(t, OpWritePartialUpdate, op.Kind)
}

func TestClassifyFetchIPatchDelete(t *testing.T) {
	assert.Equal(t, OpReadComposite, classifyReq(t, CoapCodeFetch, []string{}).Kind)
	assert.Equal(t, OpWriteComposite, classifyReq(t, CoapCodeIPatch, []string{}).Kind)
	assert.Equal(t, OpDelete, classifyReq(t, CoapCodeDelete, []string{"3303", "0"}).Kind)
}

func TestClassifyClientInitiatedLifecycle(t *testing.T) {
	reg := &Message{Code: CoapCodePost, Options: []CoapOption{OptStr(OptUriPath, "rd")}}
	op, err := Classify(reg, RoleServer)
	require.NoError(t, err)
	assert.Equal(t, OpRegister, op.Kind)

	upd := &Message{Code: CoapCodePost, Options: []CoapOption{OptStr(OptUriPath, "rd"), OptStr(OptUriPath, "abc123")}}
	op, err = Classify(upd, RoleServer)
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, op.Kind)

	dereg := &Message{Code: CoapCodeDelete, Options: []CoapOption{OptStr(OptUriPath, "rd"), OptStr(OptUriPath, "abc123")}}
	op, err = Classify(dereg, RoleServer)
	require.NoError(t, err)
	assert.Equal(t, OpDeregister, op.Kind)

	bs := &Message{Code: CoapCodePost, Options: []CoapOption{OptStr(OptUriPath, "bs")}}
	op, err = Classify(bs, RoleServer)
	require.NoError(t, err)
	assert.Equal(t, OpBootstrapRequest, op.Kind)
}

func TestClassifyUnrecognizedMethodIsError(t *testing.T) {
	m := &Message{Code: CoapCodePatch, Options: []CoapOption{OptStr(OptUriPath, "3")}}
	_, err := Classify(m, RoleClient)
	require.Error(t, err)
	assert.Equal(t, KindMethodNotAllowed, AsOpError(err).Kind)
}
