// Package kserve discovers model endpoints served by KServe InferenceServices
// and resolves provider ids to backends pointing at them.
package kserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var isvcGVR = schema.GroupVersionResource{
	Group:    "serving.kserve.io",
	Version:  "v1beta1",
	Resource: "inferenceservices",
}

// ErrNotFound is returned when no InferenceService exists for a model.
var ErrNotFound = errors.New("inference service not found")

// Discovery reads InferenceServices from one namespace.
type Discovery struct {
	client        dynamic.Interface
	namespace     string
	labelSelector string
}

// NewDiscovery builds a Discovery from kubeconfig, or the in-cluster config when inCluster is set.
func NewDiscovery(namespace, kubeconfig string, inCluster bool) (*Discovery, error) {
	var config *rest.Config
	var err error

	if inCluster {
		config, err = rest.InClusterConfig()
	} else {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			loadingRules.ExplicitPath = kubeconfig
		}
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules, &clientcmd.ConfigOverrides{},
		).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	client, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	return NewDiscoveryWithClient(client, namespace), nil
}

// NewDiscoveryWithClient creates a Discovery with an existing dynamic client.
func NewDiscoveryWithClient(client dynamic.Interface, namespace string) *Discovery {
	return &Discovery{
		client:    client,
		namespace: namespace,
	}
}

// SetLabelSelector restricts List to matching InferenceServices.
func (d *Discovery) SetLabelSelector(selector string) {
	d.labelSelector = selector
}

// CheckCRDAvailable verifies that the InferenceService CRD is installed in the cluster.
func (d *Discovery) CheckCRDAvailable(ctx context.Context) error {
	_, err := d.client.Resource(isvcGVR).Namespace(d.namespace).List(ctx, metav1.ListOptions{
		Limit: 1,
	})
	if err != nil {
		return fmt.Errorf("KServe InferenceService CRD is not available in the cluster: %w", err)
	}
	return nil
}

// List returns the endpoints of all InferenceServices in the namespace.
func (d *Discovery) List(ctx context.Context) ([]Endpoint, error) {
	list, err := d.client.Resource(isvcGVR).Namespace(d.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: d.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list InferenceServices: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(list.Items))
	for i := range list.Items {
		isvc, err := fromUnstructured(&list.Items[i])
		if err != nil {
			slog.Warn("failed to convert InferenceService", "name", list.Items[i].GetName(), "error", err)
			continue
		}
		endpoints = append(endpoints, endpointFor(isvc, isvc.Name))
	}
	return endpoints, nil
}

// Get returns the endpoint serving model.
func (d *Discovery) Get(ctx context.Context, model string) (*Endpoint, error) {
	name := ResourceName(model)
	item, err := d.client.Resource(isvcGVR).Namespace(d.namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get InferenceService %s: %w", name, err)
	}

	isvc, err := fromUnstructured(item)
	if err != nil {
		return nil, fmt.Errorf("failed to convert InferenceService %s: %w", name, err)
	}
	ep := endpointFor(isvc, model)
	return &ep, nil
}

func endpointFor(isvc *InferenceService, model string) Endpoint {
	ep := Endpoint{Model: model}
	if isvc.Status.IsReady() {
		ep.Ready = true
		ep.URL = baseURL(isvc)
		return ep
	}
	ep.Message = "pending"
	if c := isvc.Status.ReadyCondition(); c != nil && c.Message != "" {
		ep.Message = c.Message
	}
	return ep
}
