package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RainStream/rainstream-server/internal/conf"
	"github.com/RainStream/rainstream-server/internal/servers/cluster"
	"github.com/RainStream/rainstream-server/internal/test"
)

type fakeClusterServer struct {
	kicked chan [2]string
}

func (s *fakeClusterServer) APIRoomsList() ([]cluster.APIRoom, error) {
	return []cluster.APIRoom{{
		Id: "room1",
		Peers: []cluster.APIPeer{
			{Id: "a", DisplayName: "Alice", Joined: true, Producers: 1, Consumers: 2},
		},
	}}, nil
}

func (s *fakeClusterServer) APIRoomsGet(roomId string) (cluster.APIRoom, error) {
	if roomId != "room1" {
		return cluster.APIRoom{}, cluster.ErrRoomNotFound
	}
	return cluster.APIRoom{Id: "room1", Peers: []cluster.APIPeer{}}, nil
}

func (s *fakeClusterServer) APIRoomsKick(roomId string, peerId string) error {
	if roomId != "room1" {
		return cluster.ErrRoomNotFound
	}
	s.kicked <- [2]string{roomId, peerId}
	return nil
}

func newTestAPI(t *testing.T) (*API, *fakeClusterServer) {
	cs := &fakeClusterServer{kicked: make(chan [2]string, 1)}

	cnf, _, err := conf.Load("", nil)
	require.NoError(t, err)

	a := &API{
		Version:       "v1.0.0",
		Started:       time.Now(),
		NodeID:        "node1",
		Address:       "127.0.0.1:0",
		ReadTimeout:   10 * time.Second,
		Conf:          cnf,
		ClusterServer: cs,
		Parent:        test.NilLogger,
	}
	require.NoError(t, a.Initialize())
	t.Cleanup(a.Close)

	return a, cs
}

func httpGetJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	if out != nil && res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestAPIInfo(t *testing.T) {
	a, _ := newTestAPI(t)

	var info APIInfo
	code := httpGetJSON(t, fmt.Sprintf("http://%s/v1/info", a.Addr()), &info)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "v1.0.0", info.Version)
	require.Equal(t, "node1", info.NodeID)
}

func TestAPIConfigGlobalGet(t *testing.T) {
	a, _ := newTestAPI(t)

	var out map[string]interface{}
	code := httpGetJSON(t, fmt.Sprintf("http://%s/v1/config/global/get", a.Addr()), &out)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, out)
}

func TestAPIRoomsList(t *testing.T) {
	a, _ := newTestAPI(t)

	var out struct {
		Items []cluster.APIRoom `json:"items"`
	}
	code := httpGetJSON(t, fmt.Sprintf("http://%s/v1/rooms/list", a.Addr()), &out)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out.Items, 1)
	require.Equal(t, "room1", out.Items[0].Id)
	require.Equal(t, "Alice", out.Items[0].Peers[0].DisplayName)
}

func TestAPIRoomsGet(t *testing.T) {
	a, _ := newTestAPI(t)

	var room cluster.APIRoom
	code := httpGetJSON(t, fmt.Sprintf("http://%s/v1/rooms/get/room1", a.Addr()), &room)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "room1", room.Id)

	code = httpGetJSON(t, fmt.Sprintf("http://%s/v1/rooms/get/missing", a.Addr()), nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestAPIRoomsKick(t *testing.T) {
	a, cs := newTestAPI(t)

	res, err := http.Post(fmt.Sprintf("http://%s/v1/rooms/kick/room1/a", a.Addr()), "", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	select {
	case kicked := <-cs.kicked:
		require.Equal(t, [2]string{"room1", "a"}, kicked)
	case <-time.After(time.Second):
		t.Fatal("kick not forwarded")
	}

	res, err = http.Post(fmt.Sprintf("http://%s/v1/rooms/kick/missing/a", a.Addr()), "", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}
