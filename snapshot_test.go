package netsdk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapPicture(t *testing.T) {
	fd := newFakeDevice(t)
	picture := testPicture(4096)
	fd.snapshot = picture
	client, loginID := loggedIn(t, fd)

	data, err := client.SnapPicture(context.Background(), loginID, 2)
	require.NoError(t, err)
	assert.Equal(t, picture, data)
	assert.Positive(t, fd.requested("/cgi-bin/snapshot.cgi?channel=3"))

	_, err = client.SnapPicture(context.Background(), loginID, 4)
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
	_, err = client.SnapPicture(context.Background(), loginID, -1)
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
	_, err = client.SnapPicture(context.Background(), loginID+100, 0)
	assert.Equal(t, ErrCodeInvalidHandle, CodeOf(err))
}

func TestSnapPictureDefaultOnly(t *testing.T) {
	fd := newFakeDevice(t)
	picture := testPicture(1024)
	fd.snapshot = picture
	fd.snapshotDefaultOnly = true
	client, loginID := loggedIn(t, fd)

	data, err := client.SnapPicture(context.Background(), loginID, 0)
	require.NoError(t, err)
	assert.Equal(t, picture, data)
	assert.Positive(t, fd.requested("/cgi-bin/snapshot.cgi?channel=1"))

	// Only the first channel falls back to the default picture
	_, err = client.SnapPicture(context.Background(), loginID, 1)
	assert.Equal(t, ErrCodeNotSupported, CodeOf(err))
}

func TestSnapPictureNotPicture(t *testing.T) {
	fd := newFakeDevice(t)
	fd.snapshot = []byte("<html>Error</html>")
	fd.snapshotType = "text/html"
	client, loginID := loggedIn(t, fd)

	_, err := client.SnapPicture(context.Background(), loginID, 1)
	assert.ErrorIs(t, err, ErrNotPicture)
	assert.Equal(t, ErrCodeDeviceResponse, CodeOf(err))

	// Too short answer is not a picture either
	fd.Lock()
	fd.snapshot = testPicture(50)
	fd.snapshotType = ""
	fd.Unlock()
	_, err = client.SnapPicture(context.Background(), loginID, 1)
	assert.Equal(t, ErrCodeDeviceResponse, CodeOf(err))
}
