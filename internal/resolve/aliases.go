package resolve

// staticAliases is the built-in alias dictionary: common shorthand and
// alternate spellings mapped to canonical names. The dynamic dictionary in
// alias_mappings extends it at runtime and never overrides these.
var staticAliases = map[string]string{
	"postgres":   "PostgreSQL",
	"postgresql": "PostgreSQL",
	"pg":         "PostgreSQL",
	"psql":       "PostgreSQL",
	"mongo":      "MongoDB",
	"mongodb":    "MongoDB",
	"k8s":        "Kubernetes",
	"kube":       "Kubernetes",
	"js":         "JavaScript",
	"ts":         "TypeScript",
	"golang":     "Go",
	"py":         "Python",
	"rb":         "Ruby",
	"es":         "Elasticsearch",
	"elastic":    "Elasticsearch",
	"rabbit":     "RabbitMQ",
	"rabbitmq":   "RabbitMQ",
	"kafka":      "Apache Kafka",
	"graphql":    "GraphQL",
	"gql":        "GraphQL",
	"grpc":       "gRPC",
	"proto":      "Protocol Buffers",
	"protobuf":   "Protocol Buffers",
	"tf":         "Terraform",
	"gh actions": "GitHub Actions",
}
