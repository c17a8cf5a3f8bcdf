package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/flowmetrics/devops-mcp/internal/cache"
	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

const (
	azureMgmtBase       = "https://management.azure.com"
	azureMgmtScope      = "https://management.azure.com/.default"
	azureVaultScope     = "https://vault.azure.net/.default"
	azureComputeAPIVer  = "2024-03-01"
	azureKeyVaultAPIVer = "7.4"
)

// AzureHandler handles Azure infrastructure tools. It authenticates with
// client credentials against Entra ID and caches the resulting tokens per
// scope.
type AzureHandler struct {
	subscriptionID string
	tenantID       string
	clientID       string
	clientSecret   string
	tokens         *cache.SimpleCache
}

// NewAzureHandler creates a new Azure handler
func NewAzureHandler(tokens *cache.SimpleCache) *AzureHandler {
	return &AzureHandler{
		subscriptionID: os.Getenv("AZURE_SUBSCRIPTION_ID"),
		tenantID:       os.Getenv("AZURE_TENANT_ID"),
		clientID:       os.Getenv("AZURE_CLIENT_ID"),
		clientSecret:   os.Getenv("AZURE_CLIENT_SECRET"),
		tokens:         tokens,
	}
}

// IsConfigured reports whether Azure credentials are present.
func (h *AzureHandler) IsConfigured() bool {
	return h.subscriptionID != "" && h.tenantID != "" && h.clientID != "" && h.clientSecret != ""
}

// ListTools returns the list of Azure tools
func (h *AzureHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "azure_vm_list",
			Description: "List all VMs in a resource group or subscription",
			InputSchema: schemaObject(map[string]any{
				"resource_group": prop("string", "Resource group name (omit for the whole subscription)"),
			}),
		},
		{
			Name:        "azure_vm_start",
			Description: "Start an Azure VM",
			InputSchema: schemaObject(map[string]any{
				"resource_group": prop("string", "Resource group name"),
				"vm_name":        prop("string", "Virtual machine name"),
			}, "resource_group", "vm_name"),
		},
		{
			Name:        "azure_vm_stop",
			Description: "Stop (deallocate) an Azure VM so billing stops",
			InputSchema: schemaObject(map[string]any{
				"resource_group": prop("string", "Resource group name"),
				"vm_name":        prop("string", "Virtual machine name"),
			}, "resource_group", "vm_name"),
		},
		{
			Name:        "azure_vm_status",
			Description: "Get the power and provisioning state of a VM",
			InputSchema: schemaObject(map[string]any{
				"resource_group": prop("string", "Resource group name"),
				"vm_name":        prop("string", "Virtual machine name"),
			}, "resource_group", "vm_name"),
		},
		{
			Name:        "azure_vm_run_command",
			Description: "Run a shell command on a VM via the run-command extension",
			InputSchema: schemaObject(map[string]any{
				"resource_group": prop("string", "Resource group name"),
				"vm_name":        prop("string", "Virtual machine name"),
				"command":        prop("string", "Shell command to execute"),
			}, "resource_group", "vm_name", "command"),
		},
		{
			Name:        "azure_keyvault_get_secret",
			Description: "Get a secret from Azure Key Vault",
			InputSchema: schemaObject(map[string]any{
				"vault_name":  prop("string", "Key Vault name"),
				"secret_name": prop("string", "Secret name"),
			}, "vault_name", "secret_name"),
		},
		{
			Name:        "azure_keyvault_set_secret",
			Description: "Set a secret in Azure Key Vault",
			InputSchema: schemaObject(map[string]any{
				"vault_name":   prop("string", "Key Vault name"),
				"secret_name":  prop("string", "Secret name"),
				"secret_value": prop("string", "Secret value"),
			}, "vault_name", "secret_name", "secret_value"),
		},
	}
}

// HandleTool routes an Azure tool call
func (h *AzureHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	if !h.IsConfigured() {
		return errorResult("AZURE_SUBSCRIPTION_ID, AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET must be set")
	}

	args := call.Arguments
	rg := getString(args, "resource_group")
	vm := getString(args, "vm_name")

	switch call.Name {
	case "azure_vm_list":
		return h.listVMs(rg)
	case "azure_vm_start":
		return h.vmAction(rg, vm, "start", "starting")
	case "azure_vm_stop":
		return h.vmAction(rg, vm, "deallocate", "deallocating")
	case "azure_vm_status":
		return h.vmStatus(rg, vm)
	case "azure_vm_run_command":
		return h.vmRunCommand(rg, vm, getString(args, "command"))
	case "azure_keyvault_get_secret":
		return h.getSecret(getString(args, "vault_name"), getString(args, "secret_name"))
	case "azure_keyvault_set_secret":
		return h.setSecret(getString(args, "vault_name"), getString(args, "secret_name"), getString(args, "secret_value"))
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

// accessToken fetches (or returns a cached) client-credentials token for the
// given scope.
func (h *AzureHandler) accessToken(scope string) (string, error) {
	cacheKey := "azure:" + scope
	if cached, ok := h.tokens.Get(cacheKey); ok {
		return cached.(string), nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", h.clientID)
	form.Set("client_secret", h.clientSecret)
	form.Set("scope", scope)

	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(h.tenantID))
	req, err := http.NewRequest(http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	data, err := doJSON(req)
	if err != nil {
		return "", fmt.Errorf("acquiring Azure token: %w", err)
	}

	token, _ := data["access_token"].(string)
	if token == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	ttl := 50 * time.Minute
	if expires, ok := data["expires_in"].(float64); ok && expires > 120 {
		ttl = time.Duration(expires-60) * time.Second
	}
	h.tokens.Set(cacheKey, token, ttl)
	return token, nil
}

func (h *AzureHandler) call(method, rawURL, scope string, payload any) (map[string]any, error) {
	token, err := h.accessToken(scope)
	if err != nil {
		return nil, err
	}

	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return doJSON(req)
}

func (h *AzureHandler) listVMs(resourceGroup string) (mcp.ToolResult, error) {
	path := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.Compute/virtualMachines?api-version=%s",
		azureMgmtBase, url.PathEscape(h.subscriptionID), azureComputeAPIVer)
	if resourceGroup != "" {
		path = fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/virtualMachines?api-version=%s",
			azureMgmtBase, url.PathEscape(h.subscriptionID), url.PathEscape(resourceGroup), azureComputeAPIVer)
	}

	data, err := h.call(http.MethodGet, path, azureMgmtScope, nil)
	if err != nil {
		return errorResult("listing VMs: %v", err)
	}

	vms := []map[string]any{}
	if entries, ok := data["value"].([]any); ok {
		for _, entry := range entries {
			vm, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			summary := map[string]any{
				"name":     vm["name"],
				"location": vm["location"],
			}
			if props, ok := vm["properties"].(map[string]any); ok {
				if hw, ok := props["hardwareProfile"].(map[string]any); ok {
					summary["vm_size"] = hw["vmSize"]
				}
				summary["provisioning_state"] = props["provisioningState"]
			}
			if id, ok := vm["id"].(string); ok {
				summary["resource_group"] = resourceGroupFromID(id)
			}
			vms = append(vms, summary)
		}
	}
	return jsonResult(map[string]any{"vms": vms, "count": len(vms)})
}

func (h *AzureHandler) vmAction(resourceGroup, vmName, action, status string) (mcp.ToolResult, error) {
	if resourceGroup == "" || vmName == "" {
		return errorResult("resource_group and vm_name are required")
	}

	path := fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/virtualMachines/%s/%s?api-version=%s",
		azureMgmtBase, url.PathEscape(h.subscriptionID), url.PathEscape(resourceGroup),
		url.PathEscape(vmName), action, azureComputeAPIVer)
	if _, err := h.call(http.MethodPost, path, azureMgmtScope, nil); err != nil {
		return errorResult("VM %s: %v", action, err)
	}

	return jsonResult(map[string]any{
		"status":         status,
		"vm_name":        vmName,
		"resource_group": resourceGroup,
		"message":        fmt.Sprintf("VM %s is %s. This may take a few minutes.", vmName, status),
	})
}

func (h *AzureHandler) vmStatus(resourceGroup, vmName string) (mcp.ToolResult, error) {
	if resourceGroup == "" || vmName == "" {
		return errorResult("resource_group and vm_name are required")
	}

	path := fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/virtualMachines/%s/instanceView?api-version=%s",
		azureMgmtBase, url.PathEscape(h.subscriptionID), url.PathEscape(resourceGroup),
		url.PathEscape(vmName), azureComputeAPIVer)
	data, err := h.call(http.MethodGet, path, azureMgmtScope, nil)
	if err != nil {
		return errorResult("VM status: %v", err)
	}

	powerState := "unknown"
	provisioningState := "unknown"
	if statuses, ok := data["statuses"].([]any); ok {
		for _, entry := range statuses {
			status, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			code, _ := status["code"].(string)
			switch {
			case strings.HasPrefix(code, "PowerState/"):
				powerState = strings.TrimPrefix(code, "PowerState/")
			case strings.HasPrefix(code, "ProvisioningState/"):
				provisioningState = strings.TrimPrefix(code, "ProvisioningState/")
			}
		}
	}

	return jsonResult(map[string]any{
		"vm_name":            vmName,
		"resource_group":     resourceGroup,
		"power_state":        powerState,
		"provisioning_state": provisioningState,
	})
}

func (h *AzureHandler) vmRunCommand(resourceGroup, vmName, command string) (mcp.ToolResult, error) {
	if resourceGroup == "" || vmName == "" || command == "" {
		return errorResult("resource_group, vm_name and command are required")
	}

	path := fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/virtualMachines/%s/runCommand?api-version=%s",
		azureMgmtBase, url.PathEscape(h.subscriptionID), url.PathEscape(resourceGroup),
		url.PathEscape(vmName), azureComputeAPIVer)
	data, err := h.call(http.MethodPost, path, azureMgmtScope, map[string]any{
		"commandId": "RunShellScript",
		"script":    []string{command},
	})
	if err != nil {
		return errorResult("running command: %v", err)
	}
	return jsonResult(data)
}

func (h *AzureHandler) getSecret(vaultName, secretName string) (mcp.ToolResult, error) {
	if vaultName == "" || secretName == "" {
		return errorResult("vault_name and secret_name are required")
	}

	path := fmt.Sprintf("https://%s.vault.azure.net/secrets/%s?api-version=%s",
		vaultName, url.PathEscape(secretName), azureKeyVaultAPIVer)
	data, err := h.call(http.MethodGet, path, azureVaultScope, nil)
	if err != nil {
		return errorResult("getting secret: %v", err)
	}
	return jsonResult(map[string]any{
		"name":  secretName,
		"value": data["value"],
	})
}

func (h *AzureHandler) setSecret(vaultName, secretName, secretValue string) (mcp.ToolResult, error) {
	if vaultName == "" || secretName == "" || secretValue == "" {
		return errorResult("vault_name, secret_name and secret_value are required")
	}

	path := fmt.Sprintf("https://%s.vault.azure.net/secrets/%s?api-version=%s",
		vaultName, url.PathEscape(secretName), azureKeyVaultAPIVer)
	if _, err := h.call(http.MethodPut, path, azureVaultScope, map[string]any{"value": secretValue}); err != nil {
		return errorResult("setting secret: %v", err)
	}
	return textResult(fmt.Sprintf("Secret %s set in vault %s", secretName, vaultName)), nil
}

// resourceGroupFromID extracts the resource group segment from a full ARM
// resource ID.
func resourceGroupFromID(id string) string {
	parts := strings.Split(id, "/")
	for i := 0; i < len(parts)-1; i++ {
		if strings.EqualFold(parts[i], "resourceGroups") {
			return parts[i+1]
		}
	}
	return ""
}
