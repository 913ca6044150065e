package util

type serviceConstants struct {
	Redis string
	Nats  string
}

var Services = serviceConstants{
	Redis: "redis",
	Nats:  "nats",
}

type sources struct {
	Internal string
	Oracle   string
	AI       string
}

// Sources names the origins a risk observation can be tagged with. Any other
// non-empty name is accepted as well.
var Sources = sources{
	Internal: "internal",
	Oracle:   "oracle",
	AI:       "ai",
}

type backends struct {
	Memory string
	Redis  string
	Badger string
}

var Backends = backends{
	Memory: "memory",
	Redis:  "redis",
	Badger: "badger",
}

type sourceLists struct {
	Static string
	Redis  string
}

var SourceLists = sourceLists{
	Static: "static",
	Redis:  "redis",
}

type subjects struct {
	RiskUpdated     string
	Liquidatable    string
	OracleFeed      string
	OracleQueueName string
}

var Subjects = subjects{
	RiskUpdated:     "rwa.risk.updated",
	Liquidatable:    "rwa.loans.liquidatable",
	OracleFeed:      "rwa.oracle.observations",
	OracleQueueName: "rwa-engine",
}

const DefaultRiskScore uint8 = 50
