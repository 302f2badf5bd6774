package control

// 消息类型。未列出的类型一律忽略，保证旧版本能容忍新控制端发送的新消息。
const (
	TypeForceActivate  = "ForceActivate"
	TypeQueryStatus    = "QueryStatus"
	TypeAck            = "Ack"
	TypeStatusResponse = "StatusResponse"
)

// Envelope 只解析 type 字段，其余字段留给具体消息。
type Envelope struct {
	Type string `json:"type"`
}

// Ack 是 ForceActivate 的可选应答，携带当前代际标识。
type Ack struct {
	Type       string `json:"type"`
	Generation string `json:"generation"`
}

// StatusResponse 是 QueryStatus 的应答。
type StatusResponse struct {
	Type       string `json:"type"`
	StoreName  string `json:"storeName"`
	EntryCount int    `json:"entryCount"`
}
