package security

// In-memory client registry (replace with DB/config later)
type Client struct {
	ID      string
	Secret  string
	Perms   []string // e.g. {"group-orders.read","group-orders.admin"}
	Enabled bool
}

var Clients = map[string]Client{
	"simulated-client": {ID: "simulated-client", Secret: "simulated-client-secret", Perms: []string{"group-orders.read"}, Enabled: true},
	"svc-restaurant":   {ID: "svc-restaurant", Secret: "restaurant-secret", Perms: []string{"group-orders.read", "group-orders.admin"}, Enabled: true},
	"svc-payments":     {ID: "svc-payments", Secret: "payments-secret", Perms: []string{"group-orders.read"}, Enabled: true},
}
