package constants

// Well-known container and binary names used across the operator.
const (
	ContainerNameMemcached = "memcached"
	BinaryNameMemcached    = "memcached"
)

// FieldOwner is the field manager name used for Server-Side Apply.
const FieldOwner = "memcached-operator"
