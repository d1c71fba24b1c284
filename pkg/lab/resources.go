package lab

import (
	"encoding/base64"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/sqre-io/labcontroller/pkg/usermap"
)

const labelApp = "nublado.lsst.io/lab"

func namespaceName(prefix, username string) string {
	if prefix == "" {
		return username
	}
	return prefix + "-" + username
}

func objectLabels(username string) map[string]string {
	return map[string]string{labelApp: "true", "nublado.lsst.io/user": username}
}

// buildNamespace builds the per-user namespace object.
func buildNamespace(prefix, username string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   namespaceName(prefix, username),
			Labels: objectLabels(username),
		},
	}
}

// buildSecret builds the per-user secret: configured source-secret keys
// merged with the caller's token under the reserved "token" key. Source
// data is resolved by the caller (manager.go) since it requires a cluster
// read; this function only shapes the final object.
func buildSecret(namespace, username, token string, sourced map[string][]byte) *corev1.Secret {
	data := make(map[string][]byte, len(sourced)+1)
	for k, v := range sourced {
		data[k] = v
	}
	data["token"] = []byte(base64.StdEncoding.EncodeToString([]byte(token)))
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "lab-secret", Namespace: namespace, Labels: objectLabels(username)},
		Type:       corev1.SecretTypeOpaque,
		Data:       data,
	}
}

// buildNSSConfigMap builds the passwd/group config map consumed by the
// lab pod's NSS wrapper.
func buildNSSConfigMap(namespace, username string, user usermap.User) *corev1.ConfigMap {
	passwd := fmt.Sprintf("%s:x:%d:%d:%s:/home/%s:/bin/bash\n", username, user.UID, user.GID, user.DisplayName, username)
	group := fmt.Sprintf("%s:x:%d:\n", username, user.GID)
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "lab-nss", Namespace: namespace, Labels: objectLabels(username)},
		Data:       map[string]string{"passwd": passwd, "group": group},
	}
}

// buildEnvConfigMap builds the lab environment config map: the configured
// base environment overridden by the user's per-spec env.
func buildEnvConfigMap(namespace, username string, base, override map[string]string) *corev1.ConfigMap {
	data := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		data[k] = v
	}
	for k, v := range override {
		data[k] = v
	}
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "lab-env", Namespace: namespace, Labels: objectLabels(username)},
		Data:       data,
	}
}

// buildNetworkPolicy builds the lab pod's policy: egress is allowed (DNS
// plus all other traffic), and ingress is admitted only from the
// controller's namespace.
func buildNetworkPolicy(namespace, username, controllerNamespace string) *networkingv1.NetworkPolicy {
	udp := corev1.ProtocolUDP
	dnsPort := intstr.FromInt(53)
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{Name: "lab-policy", Namespace: namespace, Labels: objectLabels(username)},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{MatchLabels: objectLabels(username)},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress, networkingv1.PolicyTypeIngress},
			Egress: []networkingv1.NetworkPolicyEgressRule{
				{Ports: []networkingv1.NetworkPolicyPort{{Protocol: &udp, Port: &dnsPort}}},
				{}, // allow all other egress; the cluster's default-deny ingress is the boundary that matters here
			},
			Ingress: []networkingv1.NetworkPolicyIngressRule{
				{
					From: []networkingv1.NetworkPolicyPeer{
						{NamespaceSelector: &metav1.LabelSelector{MatchLabels: map[string]string{"kubernetes.io/metadata.name": controllerNamespace}}},
					},
				},
			},
		},
	}
}

// buildResourceQuota builds the namespace's resource quota from res, the
// limits already resolved by Manager.namespaceQuota.
func buildResourceQuota(namespace, username string, res usermap.Resources) *corev1.ResourceQuota {
	hard := corev1.ResourceList{}
	if res.CPULimit != "" {
		hard[corev1.ResourceLimitsCPU] = resource.MustParse(res.CPULimit)
	}
	if res.MemoryLimit != "" {
		hard[corev1.ResourceLimitsMemory] = resource.MustParse(res.MemoryLimit)
	}
	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{Name: "lab-quota", Namespace: namespace, Labels: objectLabels(username)},
		Spec:       corev1.ResourceQuotaSpec{Hard: hard},
	}
}

// buildPod builds the user's lab pod: single container, non-root security
// context using the user's uid/gid, working directory /home/<username>.
func buildPod(cfg Config, namespace, username string, user usermap.User, spec usermap.LabSpec, res usermap.Resources) *corev1.Pod {
	uid := user.UID
	gid := user.GID
	nonRoot := true
	noEscalation := false

	resources := corev1.ResourceRequirements{Limits: corev1.ResourceList{}, Requests: corev1.ResourceList{}}
	if res.CPULimit != "" {
		resources.Limits[corev1.ResourceCPU] = resource.MustParse(res.CPULimit)
	}
	if res.MemoryLimit != "" {
		resources.Limits[corev1.ResourceMemory] = resource.MustParse(res.MemoryLimit)
	}
	if res.CPURequest != "" {
		resources.Requests[corev1.ResourceCPU] = resource.MustParse(res.CPURequest)
	}
	if res.MemoryRequest != "" {
		resources.Requests[corev1.ResourceMemory] = resource.MustParse(res.MemoryRequest)
	}

	var volumes []corev1.Volume
	var mounts []corev1.VolumeMount
	for _, v := range cfg.Volumes {
		vol := corev1.Volume{Name: v.Name}
		switch {
		case v.NFSServer != "":
			vol.VolumeSource = corev1.VolumeSource{NFS: &corev1.NFSVolumeSource{Server: v.NFSServer, Path: v.NFSPath, ReadOnly: v.NFSReadOnly}}
		case v.HostPath != "":
			vol.VolumeSource = corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: v.HostPath}}
		default:
			vol.VolumeSource = corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}
		}
		volumes = append(volumes, vol)
	}
	for _, m := range cfg.VolumeMounts {
		mounts = append(mounts, corev1.VolumeMount{Name: m.Name, MountPath: m.MountPath, ReadOnly: m.ReadOnly, SubPath: m.SubPath})
	}
	volumes = append(volumes,
		corev1.Volume{Name: "nss", VolumeSource: corev1.VolumeSource{ConfigMap: &corev1.ConfigMapVolumeSource{LocalObjectReference: corev1.LocalObjectReference{Name: "lab-nss"}}}},
	)
	mounts = append(mounts, corev1.VolumeMount{Name: "nss", MountPath: "/etc/nublado", ReadOnly: true})

	var initContainers []corev1.Container
	for _, ic := range cfg.InitContainers {
		initContainers = append(initContainers, corev1.Container{Name: ic.Name, Image: ic.Image, Command: ic.Command})
	}

	gracePeriod := cfg.TerminationGraceSecs
	if gracePeriod == 0 {
		gracePeriod = 25
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "lab", Namespace: namespace, Labels: objectLabels(username)},
		Spec: corev1.PodSpec{
			RestartPolicy:                 corev1.RestartPolicyNever,
			AutomountServiceAccountToken:  boolPtr(false),
			TerminationGracePeriodSeconds: &gracePeriod,
			SecurityContext: &corev1.PodSecurityContext{
				RunAsUser:    &uid,
				RunAsGroup:   &gid,
				RunAsNonRoot: &nonRoot,
			},
			InitContainers: initContainers,
			Containers: []corev1.Container{
				{
					Name:       "notebook",
					Image:      spec.Image,
					WorkingDir: "/home/" + username,
					Env:        envVarsFrom(spec.Env),
					Resources:  resources,
					VolumeMounts: mounts,
					SecurityContext: &corev1.SecurityContext{
						RunAsNonRoot:             &nonRoot,
						AllowPrivilegeEscalation: &noEscalation,
					},
				},
			},
			Volumes: volumes,
		},
	}
}

func envVarsFrom(env map[string]string) []corev1.EnvVar {
	var out []corev1.EnvVar
	for k, v := range env {
		out = append(out, corev1.EnvVar{Name: k, Value: v})
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
