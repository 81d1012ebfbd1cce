package netsdk

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	fd := newFakeDevice(t)
	client := NewClient()
	require.NoError(t, client.Init(nil))
	defer client.Cleanup()

	loginID, info, err := client.LoginWithHighLevelSecurity(context.Background(), fd.loginParams(t))
	require.NoError(t, err)
	assert.NotZero(t, loginID)
	assert.Equal(t, DeviceInfo{
		SerialNumber:    "4M0123PAZ00001",
		DeviceType:      "DH-XVR5108HS",
		MachineName:     "XVR",
		SoftwareVersion: "4.001.0000000.1,build:2021-01-01",
		ChannelCount:    4,
	}, info)
	assert.True(t, client.IsOnline(loginID))

	stored, err := client.DeviceInfo(loginID)
	require.NoError(t, err)
	assert.Equal(t, info, stored)

	require.NoError(t, client.Logout(loginID))
	assert.False(t, client.IsOnline(loginID))
	err = client.Logout(loginID)
	assert.Equal(t, ErrCodeInvalidHandle, CodeOf(err))
	assert.Equal(t, ErrCodeInvalidHandle, client.LastError())
}

func TestLoginIllegalParams(t *testing.T) {
	client := NewClient()
	require.NoError(t, client.Init(nil))
	defer client.Cleanup()

	_, _, err := client.LoginWithHighLevelSecurity(context.Background(), LoginParams{Username: "admin"})
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
	_, _, err = client.LoginWithHighLevelSecurity(context.Background(), LoginParams{IP: "127.0.0.1", Username: "admin", Port: 70000})
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
	_, _, err = client.LoginLoop(context.Background(), LoginParams{IP: "127.0.0.1"}, time.Millisecond)
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
}

func TestLoginWrongPassword(t *testing.T) {
	fd := newFakeDevice(t)
	fd.denyAll = true
	client := NewClient()
	require.NoError(t, client.Init(nil))
	defer client.Cleanup()

	_, _, err := client.LoginWithHighLevelSecurity(context.Background(), fd.loginParams(t))
	assert.Equal(t, ErrCodeLoginPassword, CodeOf(err))
	assert.Equal(t, ErrCodeLoginPassword, client.LastError())
}

func TestLoginConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	client := NewClient()
	require.NoError(t, client.Init(nil))
	defer client.Cleanup()
	client.SetConnectTime(time.Second, 2)
	_, _, err = client.LoginWithHighLevelSecurity(context.Background(), LoginParams{IP: "127.0.0.1", Port: port, Username: "admin"})
	assert.Equal(t, ErrCodeLoginConnect, CodeOf(err))
}

func TestLoginLoopCancel(t *testing.T) {
	fd := newFakeDevice(t)
	fd.denyAll = true
	client := NewClient()
	require.NoError(t, client.Init(nil))
	defer client.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _, err := client.LoginLoop(ctx, fd.loginParams(t), 50*time.Millisecond)
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, fd.requested("/cgi-bin/magicBox.cgi?action=getDeviceType"), 2)
}

func TestDisconnectCallback(t *testing.T) {
	fd := newFakeDevice(t)
	disconnected := make(chan LoginID, 1)
	client := NewClient()
	require.NoError(t, client.Init(func(loginID LoginID, ip string, port int) {
		disconnected <- loginID
	}))
	defer client.Cleanup()
	client.SetNetworkParam(NetParam{HeartbeatInterval: 50 * time.Millisecond, WaitTime: time.Second})

	loginID, _, err := client.LoginWithHighLevelSecurity(context.Background(), fd.loginParams(t))
	require.NoError(t, err)
	fd.server.Close()

	select {
	case got := <-disconnected:
		assert.Equal(t, loginID, got)
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect callback has not been called")
	}
	assert.False(t, client.IsOnline(loginID))
}

func TestNetworkParam(t *testing.T) {
	client := NewClient()
	client.SetConnectTime(7*time.Second, 5)
	client.SetNetworkParam(NetParam{HeartbeatInterval: time.Minute})
	param := client.NetworkParam()
	assert.Equal(t, 7*time.Second, param.WaitTime)
	assert.Equal(t, 5, param.ConnectTryNum)
	assert.Equal(t, defaultConnectTime, param.ConnectTime)
	assert.Equal(t, time.Minute, param.HeartbeatInterval)
}

func TestLoginOnvifHangs(t *testing.T) {
	fd := newFakeDevice(t)
	fd.hangOnvif = true
	client := NewClient()
	require.NoError(t, client.Init(nil))
	defer client.Cleanup()
	client.SetConnectTime(300*time.Millisecond, 1)
	params := fd.loginParams(t)
	params.Onvif = true

	started := time.Now()
	loginID, info, err := client.LoginWithHighLevelSecurity(context.Background(), params)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 3*time.Second)
	assert.NotZero(t, loginID)
	assert.Empty(t, info.Manufacturer)
	assert.Equal(t, "4M0123PAZ00001", info.SerialNumber)
	assert.Positive(t, fd.requested("/onvif/"))
}

func TestLoginOnvifCancel(t *testing.T) {
	fd := newFakeDevice(t)
	fd.hangOnvif = true
	client := NewClient()
	require.NoError(t, client.Init(nil))
	defer client.Cleanup()
	client.SetConnectTime(time.Minute, 1)
	params := fd.loginParams(t)
	params.Onvif = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		deadline := time.Now().Add(5 * time.Second)
		for fd.requested("/onvif/") == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}()
	started := time.Now()
	_, info, err := client.LoginWithHighLevelSecurity(ctx, params)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Empty(t, info.Manufacturer)
}

func TestTestConnection(t *testing.T) {
	fd := newFakeDevice(t)
	client := NewClient()
	require.NoError(t, client.Init(nil))
	defer client.Cleanup()

	info, err := client.TestConnection(context.Background(), fd.loginParams(t))
	require.NoError(t, err)
	assert.Equal(t, "DH-XVR5108HS", info.DeviceType)
	assert.Equal(t, 4, info.ChannelCount)
	assert.Empty(t, client.handles.sessionIDs())

	fd.Lock()
	fd.denyAll = true
	fd.Unlock()
	_, err = client.TestConnection(context.Background(), fd.loginParams(t))
	assert.Equal(t, ErrCodeLoginPassword, CodeOf(err))
	_, err = client.TestConnection(context.Background(), LoginParams{Username: "admin"})
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))

	uninit := NewClient()
	_, err = uninit.TestConnection(context.Background(), fd.loginParams(t))
	assert.Equal(t, ErrCodeSDKUninit, CodeOf(err))
}
