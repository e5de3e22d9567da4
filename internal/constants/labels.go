package constants

// Common Kubernetes label keys used by the operator.
const (
	LabelAppName      = "app.kubernetes.io/name"
	LabelAppInstance  = "app.kubernetes.io/instance"
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
	LabelAppComponent = "app.kubernetes.io/component"

	LabelMemcachedService  = "cache.yashika.dev/service"
	LabelMemcachedRevision = "cache.yashika.dev/revision"
)

// Common label values used by the operator.
const (
	LabelValueAppNameMemcached     = "memcached"
	LabelValueAppManagedByOperator = "memcached-operator"
	LabelValueAppComponentCache    = "cache"
)
