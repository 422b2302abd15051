package kserve

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// InferenceService is the subset of serving.kserve.io/v1beta1 InferenceService
// needed to discover endpoints. Only metadata and status are decoded.
type InferenceService struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Status InferenceServiceStatus `json:"status,omitempty"`
}

// InferenceServiceStatus represents the observed state of an InferenceService.
type InferenceServiceStatus struct {
	Conditions []StatusCondition `json:"conditions,omitempty"`

	// URL is the endpoint URL assigned by the InferenceService controller.
	URL string `json:"url,omitempty"`
}

// StatusCondition follows the Knative condition schema.
type StatusCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// IsReady returns true if the InferenceService has a Ready=True condition.
func (s *InferenceServiceStatus) IsReady() bool {
	c := s.ReadyCondition()
	return c != nil && c.Status == "True"
}

// ReadyCondition returns the Ready condition if present, or nil.
func (s *InferenceServiceStatus) ReadyCondition() *StatusCondition {
	for i := range s.Conditions {
		if s.Conditions[i].Type == "Ready" {
			return &s.Conditions[i]
		}
	}
	return nil
}

// Endpoint is a discovered model endpoint.
type Endpoint struct {
	Model   string `json:"model"`
	Ready   bool   `json:"ready"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}
