package neople

// ServerNames maps API server ids to their Korean display names.
var ServerNames = map[string]string{
	"all":      "전체",
	"anton":    "안톤",
	"bakal":    "바칼",
	"cain":     "카인",
	"casillas": "카시야스",
	"diregie":  "디레지에",
	"hilder":   "힐더",
	"prey":     "프레이",
	"siroco":   "시로코",
}

// ServerName returns the display name for a server id, falling back to the
// id itself for unknown servers.
func ServerName(id string) string {
	if name, ok := ServerNames[id]; ok {
		return name
	}
	return id
}
