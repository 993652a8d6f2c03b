package websocket

import (
	"regexp"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// socketTransport emits through one socket.io connection.
type socketTransport struct {
	srv    *socketio.Server
	socket *socketio.Socket
}

func (t *socketTransport) Emit(event string, args ...any) error {
	return t.socket.Emit(event, args...)
}

func (t *socketTransport) EmitToRoom(roomID, event string, args ...any) error {
	return t.srv.To(socketio.Room(roomID)).Emit(event, args...)
}

func (t *socketTransport) JoinRoom(roomID string) {
	t.socket.Join(socketio.Room(roomID))
}

func (t *socketTransport) LeaveRoom(roomID string) {
	t.socket.Leave(socketio.Room(roomID))
}

func SetupSocketIO(engine Engine) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			"tauri://localhost",
			localhostOrigin,
		},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		me := string(socket.Id())
		sess := newSession(me, engine, &socketTransport{srv: srv, socket: socket})
		_ = socket.Emit("init-room")
		logrus.WithField("participant_id", me).Info("Client connected")

		for _, event := range []string{eventJoin, eventUpdate, eventLeave} {
			event := event
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(event, func(datas ...any) {
				sess.dispatch(event, datas)
			})
		}

		// Explicit saves wait for storage; keep them off the edit path.
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(eventSave, func(datas ...any) {
			go sess.dispatch(eventSave, datas)
		})

		socket.On("disconnecting", func(datas ...any) {
			sess.close()
			logrus.WithField("participant_id", me).Info("Client disconnecting")
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}
