package common

const (
	ComponentRPCClient         = "rpc-client"
	ComponentRPCPool           = "rpc-pool"
	ComponentChainAPI          = "chain-api"
	ComponentDictionary        = "dictionary"
	ComponentUnfinalizedTrack  = "unfinalized-tracker"
	ComponentFetchService      = "fetch-service"
	ComponentDispatcher        = "dispatcher"
	ComponentMetadataStore     = "metadata-store"
	ComponentMaintenance       = "maintenance"
	ComponentAPI               = "api"
)

var AllComponents = map[string]struct{}{
	ComponentRPCClient:        {},
	ComponentRPCPool:          {},
	ComponentChainAPI:         {},
	ComponentDictionary:       {},
	ComponentUnfinalizedTrack: {},
	ComponentFetchService:     {},
	ComponentDispatcher:       {},
	ComponentMetadataStore:    {},
	ComponentMaintenance:      {},
	ComponentAPI:              {},
}
