package revision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
)

const revisionLength = 16

// PodRevision returns a deterministic revision string derived from the fields of
// a Memcached spec that influence the shape of the running pod. Two specs that
// produce identical pods always hash to the same revision; any pod-affecting
// change produces a new one.
func PodRevision(mc *cachev1alpha1.Memcached) string {
	var b strings.Builder

	fmt.Fprintf(&b, "image=%s\n", mc.Spec.Image)
	fmt.Fprintf(&b, "args=%s\n", strings.Join(mc.Spec.Args, "\x00"))

	if mc.Spec.Resources != nil {
		writeQuantities(&b, "requests", mc.Spec.Resources.Requests)
		writeQuantities(&b, "limits", mc.Spec.Resources.Limits)
	}

	port := mc.EffectivePort()
	fmt.Fprintf(&b, "port=%s/%d/%s\n", port.Name, port.ContainerPort, port.Protocol)

	fmt.Fprintf(&b, "grace=%d\n", mc.EffectiveTerminationGracePeriodSeconds())

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:revisionLength]
}

func writeQuantities(b *strings.Builder, kind string, q *cachev1alpha1.ResourceQuantities) {
	if q == nil {
		return
	}
	fmt.Fprintf(b, "%s=cpu:%s,memory:%s\n", kind, q.CPU, q.Memory)
}
