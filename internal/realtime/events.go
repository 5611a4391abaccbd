package realtime

import (
	"encoding/json"
	"time"
)

// Event names on the wire, both directions.
const (
	EventJoin         = "join"
	EventLeave        = "leave"
	EventMessage      = "message"
	EventServerStatus = "server_status"
	EventJoinResponse = "join_response"
	EventStatus       = "status"
	EventMessageError = "message_error"
)

const (
	DefaultRoom = "default_room"
	BotName     = "ياسمين"
	BotMention  = "@" + BotName

	maxUsernameRunes = 50

	msgConnected    = "تم الاتصال بالخادم بنجاح"
	msgJoined       = "تم الانضمام إلى الغرفة بنجاح"
	msgBadUsername  = "يرجى إدخال اسم مستخدم صالح"
	msgBadData      = "بيانات غير صالحة"
	msgEmptyMessage = "الرسالة فارغة أو غير صالحة"
	msgSendFailed   = "حدث خطأ أثناء إرسال الرسالة"

	statusJoinedFmt     = "%s انضم إلى الغرفة."
	statusLeftFmt       = "%s غادر الغرفة."
	statusDisconnectFmt = "%s غادر الغرفة (انقطاع الاتصال)."
)

// Envelope wraps every frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinData struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

type messageData struct {
	Message string `json:"message"`
}

type ServerStatus struct {
	Status    string `json:"status"`
	Msg       string `json:"msg"`
	ClientID  string `json:"sid"`
	Timestamp string `json:"timestamp"`
}

type JoinResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username,omitempty"`
	Room     string `json:"room,omitempty"`
	Msg      string `json:"msg"`
}

type Status struct {
	Msg       string `json:"msg"`
	Timestamp string `json:"timestamp"`
}

type ChatMessage struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type MessageError struct {
	Msg string `json:"msg"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
