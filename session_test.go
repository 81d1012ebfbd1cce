package netsdk

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAliveReconnect(t *testing.T) {
	withReconnectInterval(t, 20*time.Millisecond)
	fd := newFakeDevice(t)
	var disconnects, reconnects atomic.Int32
	client := NewClient()
	require.NoError(t, client.Init(func(loginID LoginID, ip string, port int) {
		disconnects.Add(1)
	}))
	client.SetAutoReconnect(func(loginID LoginID, ip string, port int) {
		reconnects.Add(1)
	})
	defer client.Cleanup()
	client.SetNetworkParam(NetParam{HeartbeatInterval: 20 * time.Millisecond, WaitTime: time.Second})

	loginID, _, err := client.LoginWithHighLevelSecurity(context.Background(), fd.loginParams(t))
	require.NoError(t, err)
	assert.True(t, client.IsOnline(loginID))

	fd.setOffline(true)
	require.Eventually(t, func() bool {
		return !client.IsOnline(loginID)
	}, 5*time.Second, 10*time.Millisecond)
	// Device keeps being polled while it is away
	polled := fd.requested("/cgi-bin/global.cgi")
	require.Eventually(t, func() bool {
		return fd.requested("/cgi-bin/global.cgi") > polled+3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Zero(t, reconnects.Load())

	fd.setOffline(false)
	require.Eventually(t, func() bool {
		return client.IsOnline(loginID)
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, int32(1), reconnects.Load())
	assert.True(t, client.IsOnline(loginID))
}

func TestKeepAliveWithoutReconnect(t *testing.T) {
	withReconnectInterval(t, 20*time.Millisecond)
	fd := newFakeDevice(t)
	var disconnects atomic.Int32
	client := NewClient()
	require.NoError(t, client.Init(func(loginID LoginID, ip string, port int) {
		disconnects.Add(1)
	}))
	defer client.Cleanup()
	client.SetNetworkParam(NetParam{HeartbeatInterval: 20 * time.Millisecond, WaitTime: time.Second})

	loginID, _, err := client.LoginWithHighLevelSecurity(context.Background(), fd.loginParams(t))
	require.NoError(t, err)
	fd.setOffline(true)
	require.Eventually(t, func() bool {
		return disconnects.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	fd.setOffline(false)
	time.Sleep(200 * time.Millisecond)
	assert.False(t, client.IsOnline(loginID))
	assert.Equal(t, int32(1), disconnects.Load())
	// Session is still known and can be logged out
	require.NoError(t, client.Logout(loginID))
}

func TestLogoutBeforeKeepAlive(t *testing.T) {
	fd := newFakeDevice(t)
	client := NewClient()
	require.NoError(t, client.Init(nil))
	defer client.Cleanup()
	params := fd.loginParams(t)
	params.prepareDefaults()
	netParam := client.NetworkParam()
	dev := newDeviceHTTP(params.IP, params.Port, params.Username, params.Password, netParam.ConnectTime, VERBOSE_NONE)

	s := newSession(LoginID(client.nextHandle()), params, DeviceInfo{ChannelCount: 1}, dev)
	client.handles.addSession(s)
	loggedOut := make(chan error, 1)
	go func() {
		loggedOut <- client.Logout(s.id)
	}()
	require.Eventually(t, func() bool {
		_, ok := client.handles.getSession(s.id)
		return !ok
	}, 2*time.Second, time.Millisecond)
	client.startKeepAlive(s)

	select {
	case err := <-loggedOut:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("logout has not been finished")
	}
	select {
	case <-s.done:
	default:
		t.Fatal("keep alive is still running")
	}
}
