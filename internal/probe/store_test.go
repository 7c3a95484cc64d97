// SPDX-License-Identifier: MIT

package probe

import (
	"testing"
	"time"

	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult() model.ProbeResult {
	kbps := 6500.0
	profile := int64(101)
	return model.ProbeResult{
		Status:        model.ProbeOK,
		Width:         1920,
		Height:        1080,
		FPS:           50,
		VideoCodec:    "h264",
		AudioCodec:    "aac",
		BitrateKbps:   &kbps,
		LastCheckedAt: time.Now().UTC().Truncate(time.Second),
		UsedProfileID: &profile,
	}
}

func TestStore_PutGet(t *testing.T) {
	s := newStore(t)

	_, found, err := s.Get(1)
	require.NoError(t, err)
	require.False(t, found)

	want := sampleResult()
	require.NoError(t, s.Put(1, want))

	got, found, err := s.Get(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.Width, got.Width)
	require.NotNil(t, got.BitrateKbps)
	assert.Equal(t, *want.BitrateKbps, *got.BitrateKbps)
	require.NotNil(t, got.UsedProfileID)
	assert.Equal(t, int64(101), *got.UsedProfileID)
	assert.True(t, want.LastCheckedAt.Equal(got.LastCheckedAt))
}

func TestStore_Overwrite(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put(1, sampleResult()))

	updated := sampleResult()
	updated.Status = model.ProbeError
	updated.ErrorMessage = "connection refused"
	require.NoError(t, s.Put(1, updated))

	got, found, err := s.Get(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.ProbeError, got.Status)
	assert.Equal(t, "connection refused", got.ErrorMessage)
}

func TestStore_GetMany(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put(1, sampleResult()))
	require.NoError(t, s.Put(3, sampleResult()))

	got, err := s.GetMany([]int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got, int64(1))
	assert.NotContains(t, got, int64(2))
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put(1, sampleResult()))
	require.NoError(t, s.Delete(1))
	require.NoError(t, s.Delete(1), "deleting an absent id is not an error")

	_, found, err := s.Get(1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_ForEachAndCount(t *testing.T) {
	s := newStore(t)
	for id := int64(1); id <= 5; id++ {
		require.NoError(t, s.Put(id, sampleResult()))
	}

	var seen []int64
	err := s.ForEach(func(id int64, r model.ProbeResult) error {
		seen = append(seen, id)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 5)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
