package lab

import (
	"context"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ClusterSecretSource reads the controller's own configured secret
// references (each naming a source secret and key in the controller's
// namespace) and flattens them into the map buildSecret merges into
// every user's lab secret. One cluster round trip per distinct source
// secret; duplicate keys are rejected at Config.Validate time, not here.
func ClusterSecretSource(client kubernetes.Interface, controllerNamespace string, refs []SecretRef) func(ctx context.Context) (map[string][]byte, error) {
	return func(ctx context.Context) (map[string][]byte, error) {
		out := make(map[string][]byte, len(refs))
		cache := make(map[string]map[string][]byte, len(refs))
		for _, ref := range refs {
			data, ok := cache[ref.SourceSecretName]
			if !ok {
				secret, err := client.CoreV1().Secrets(controllerNamespace).Get(ctx, ref.SourceSecretName, metav1.GetOptions{})
				if err != nil {
					return nil, errors.Wrapf(err, "lab: read controller secret %s", ref.SourceSecretName)
				}
				data = secret.Data
				cache[ref.SourceSecretName] = data
			}
			value, ok := data[ref.SourceKey]
			if !ok {
				return nil, errors.Errorf("lab: controller secret %s has no key %s", ref.SourceSecretName, ref.SourceKey)
			}
			targetKey := ref.TargetKey
			if targetKey == "" {
				targetKey = ref.SourceKey
			}
			out[targetKey] = value
		}
		return out, nil
	}
}
