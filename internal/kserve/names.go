package kserve

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// ResourceName converts a provider id to a valid Kubernetes resource name.
func ResourceName(providerID string) string {
	result := make([]byte, 0, len(providerID))
	for _, c := range providerID {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			result = append(result, byte(c))
		case c >= 'A' && c <= 'Z':
			result = append(result, byte(c-'A'+'a'))
		case c == '_', c == '.', c == '/', c == '@', c == ':':
			result = append(result, '-')
		}
	}

	if len(result) > 0 && (result[0] < 'a' || result[0] > 'z') {
		result = append([]byte("m-"), result...)
	}
	if len(result) > 63 {
		result = result[:63]
	}
	return strings.TrimRight(string(result), "-")
}

// ServiceURL returns the in-cluster OpenAI-compatible base URL for an InferenceService.
func ServiceURL(name, namespace string) string {
	return fmt.Sprintf("http://%s.%s.svc.cluster.local/v1", ResourceName(name), namespace)
}

func fromUnstructured(obj *unstructured.Unstructured) (*InferenceService, error) {
	isvc := &InferenceService{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, isvc); err != nil {
		return nil, fmt.Errorf("failed to convert unstructured to InferenceService: %w", err)
	}
	return isvc, nil
}

// baseURL prefers the controller-assigned URL, ensuring it ends in /v1.
func baseURL(isvc *InferenceService) string {
	if isvc.Status.URL == "" {
		return ServiceURL(isvc.Name, isvc.Namespace)
	}
	u := strings.TrimRight(isvc.Status.URL, "/")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}
