package protocol

// HELLO (host -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	HostName        string            `json:"host_name"`
	World           string            `json:"world,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> host)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	World           string   `json:"world"`
	TickMs          int      `json:"tick_ms"`
	Providers       []string `json:"providers"`
	Chests          int      `json:"chests"`
}

type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw,omitempty"`
}

type Player struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Creative    bool     `json:"creative,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Location    Location `json:"location"`
}

type ItemStack struct {
	Type     string `json:"type"`
	Meta     string `json:"meta,omitempty"`
	Count    int    `json:"count"`
	MaxStack int    `json:"max_stack,omitempty"`
}

type Killer struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// DEATH: a player died with the given drops.
type DeathMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ID              string      `json:"id"`
	Player          Player      `json:"player"`
	Drops           []ItemStack `json:"drops"`
	Killer          *Killer     `json:"killer,omitempty"`
}

// OPEN, BREAK and QUICK_LOOT share this shape.
type InteractMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Player          Player `json:"player"`
	Pos             [3]int `json:"pos"`
}

// CLOSE: the player closed a chest inventory. A missing contents field
// leaves the stored inventory untouched; an empty array clears it.
type CloseMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ID              string      `json:"id"`
	Player          Player      `json:"player"`
	Pos             [3]int      `json:"pos"`
	Contents        []ItemStack `json:"contents"`
}

type ExplodeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ID              string   `json:"id"`
	World           string   `json:"world,omitempty"`
	Positions       [][3]int `json:"positions"`
}

type SignDetachedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Pos             [3]int `json:"pos"`
}

type Block struct {
	Type   string   `json:"type"`
	Facing string   `json:"facing,omitempty"`
	Half   string   `json:"half,omitempty"`
	Lines  []string `json:"lines,omitempty"`
}

// SET_BLOCK mirrors a host world change into the server's block view.
type SetBlockMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Pos             [3]int `json:"pos"`
	Block           Block  `json:"block"`
}

// RESULT (server -> host) answers one request by ID.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Request         string `json:"request"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`

	Deploy    *DeployResult `json:"deploy,omitempty"`
	Access    *AccessResult `json:"access,omitempty"`
	Found     bool          `json:"found,omitempty"`
	Destroyed bool          `json:"destroyed,omitempty"`
	Items     []ItemStack   `json:"items,omitempty"`
	Kept      [][3]int      `json:"kept,omitempty"`
	Drops     []DropMsg     `json:"drops,omitempty"`
}

type DeployResult struct {
	// Skip is set when no deployment was attempted.
	Skip      string      `json:"skip,omitempty"`
	Code      string      `json:"code,omitempty"`
	Provider  string      `json:"provider,omitempty"`
	Size      string      `json:"size"`
	ChestID   string      `json:"chest_id,omitempty"`
	Blocks    [][3]int    `json:"blocks,omitempty"`
	Sign      *[3]int     `json:"sign,omitempty"`
	Stored    int         `json:"stored"`
	Remaining []ItemStack `json:"remaining"`
}

type AccessResult struct {
	Outcome          string      `json:"outcome"`
	Reason           string      `json:"reason,omitempty"`
	Provider         string      `json:"provider,omitempty"`
	Viewer           string      `json:"viewer,omitempty"`
	RemainingSeconds int64       `json:"remaining_seconds,omitempty"`
	ChestID          string      `json:"chest_id,omitempty"`
	Capacity         int         `json:"capacity,omitempty"`
	Inventory        []ItemStack `json:"inventory,omitempty"`
}

// MESSAGE (server -> host): a localized chat message for one player.
type MessageMsg struct {
	Type      string            `json:"type"`
	Player    string            `json:"player"`
	MessageID string            `json:"message_id"`
	Params    map[string]string `json:"params,omitempty"`
}

type SoundMsg struct {
	Type   string `json:"type"`
	Player string `json:"player"`
	Sound  string `json:"sound"`
	Pos    [3]int `json:"pos"`
}

// DROP (server -> host): spill items into the world.
type DropMsg struct {
	Type  string      `json:"type,omitempty"`
	World string      `json:"world"`
	Pos   [3]int      `json:"pos"`
	Items []ItemStack `json:"items"`
}
