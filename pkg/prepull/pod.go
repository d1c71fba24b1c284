package prepull

import (
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// podSpec builds the short-lived pull-pod used to force a node's kubelet to
// fetch an image it doesn't have cached: a single container running the
// target image with a trivial command, pinned to the target node.
//
// Pods are named "<prefix>-<node>-<short digest>" and carry
// activeDeadlineSeconds equal to the configured pull timeout, so a stuck
// pull is garbage-collected by the kubelet even if the reconciler's own
// wait gives up first.
func podSpec(namePrefix, namespace, node, image, digest string, pullTimeout time.Duration) *corev1.Pod {
	deadline := int64(pullTimeout.Seconds())
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName(namePrefix, node, digest),
			Namespace: namespace,
			Labels: map[string]string{
				"nublado.lsst.io/category": "prepull",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy:                 corev1.RestartPolicyNever,
			ActiveDeadlineSeconds:         &deadline,
			NodeName:                      node,
			AutomountServiceAccountToken:  boolPtr(false),
			TerminationGracePeriodSeconds: int64Ptr(1),
			Containers: []corev1.Container{
				{
					Name:    "prepull",
					Image:   image,
					Command: []string{"/bin/sleep", "5"},
					SecurityContext: &corev1.SecurityContext{
						RunAsNonRoot:             boolPtr(true),
						AllowPrivilegeEscalation: boolPtr(false),
						ReadOnlyRootFilesystem:   boolPtr(true),
					},
				},
			},
		},
	}
}

func podName(prefix, node, digest string) string {
	short := digest
	if i := len(short); i > 12 {
		short = short[i-12:]
	}
	name := fmt.Sprintf("%s-%s-%s", prefix, node, short)
	if len(name) > 253 {
		name = name[:253]
	}
	return sanitizeDNSLabel(name)
}

func sanitizeDNSLabel(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
		case r == ':' || r == '_' || r == '.':
			out = append(out, '-')
		}
	}
	return string(out)
}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(i int64) *int64 { return &i }
