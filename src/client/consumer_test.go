package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	searches []string
	texts    []string
	done     int
	errs     []error
}

func (r *recordingHandler) OnSearch(q string)     { r.searches = append(r.searches, q) }
func (r *recordingHandler) OnContent(text string) { r.texts = append(r.texts, text) }
func (r *recordingHandler) OnDone()               { r.done++ }
func (r *recordingHandler) OnError(err error)     { r.errs = append(r.errs, err) }

func TestConsumeAccumulatesContent(t *testing.T) {
	body := "data: {\"searchQuery\":\"木更津 ラーメン\",\"searchPerformed\":true}\n\n" +
		"data: {\"content\":\"らーめん\"}\n\n" +
		"data: {broken\n\n" +
		"data: {\"content\":\"太郎\"}\n\n" +
		"data: [DONE]\n\n"
	h := &recordingHandler{}

	text, err := Consume(context.Background(), iotest.OneByteReader(strings.NewReader(body)), h)

	require.NoError(t, err)
	require.Equal(t, "らーめん太郎", text)
	require.Equal(t, []string{"木更津 ラーメン"}, h.searches)
	require.Equal(t, []string{"らーめん", "らーめん太郎"}, h.texts)
	require.Equal(t, 1, h.done)
}

func TestConsumeErrorFrame(t *testing.T) {
	body := "data: {\"content\":\"a\"}\n\ndata: {\"error\":\"boom\"}\n\n"

	h := &recordingHandler{}
	text, err := Consume(context.Background(), strings.NewReader(body), h)

	require.Len(t, h.errs, 1)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	require.Equal(t, "boom", streamErr.Message)
	require.Equal(t, "a", text)
}

func TestConsumeReadFailure(t *testing.T) {
	_, err := Consume(context.Background(), iotest.ErrReader(errors.New("reset")), &recordingHandler{})
	require.ErrorContains(t, err, "reset")
}

func TestConsumeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &recordingHandler{}

	_, err := Consume(ctx, strings.NewReader("data: {\"content\":\"a\"}\n\n"), h)

	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, h.texts)
	require.Empty(t, h.errs)
}
