package room

// Message type strings carried in a packet's `data.type` field.
const (
	typeCreateRoom  = "create_room"
	typeJoinRoom    = "join_room"
	typeGetRoomList = "get_room_list"
	typeConnect     = "connect"
	typeGameStart   = "game_start"
	typePlayerInput = "player_input"
	typePing        = "ping"
	typeSyncRequest = "sync_request"

	typeCreateRoomSuccess = "create_room_success"
	typeJoinRoomSuccess   = "join_room_success"
	typeJoinRoomFailed    = "join_room_failed"
	typeRoomList          = "room_list"
	typeConnectSuccess    = "connect_success"
	typeConnectFailed     = "connect_failed"
	typeFrameInputs       = "frame_inputs"
	typeInputAck          = "input_ack"
	typePong              = "pong"
	typePlayerDisconnect  = "player_disconnect"
)
