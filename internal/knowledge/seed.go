package knowledge

// SeedIntents are the intent labels indexed for the resolver. The
// greeting intent has no template: it never reaches slot filling.
func SeedIntents() []string {
	intents := []string{"hi hello"}
	for _, tpl := range SeedTemplates() {
		intents = append(intents, tpl.Intent)
	}
	return intents
}

// SeedTemplates is the canonical template catalog: one row per supported
// operation with its ordered required slots and downstream endpoint.
// Intent labels and slot names are the downstream contract verbatim
// (including the "exisitng" spellings) and must not be normalized.
func SeedTemplates() []Template {
	return []Template{
		{
			Intent:        "Create an EC2 instance",
			RequiredSlots: []string{"Instance Name", "Instance Type", "Ami ID"},
			Method:        "POST",
			Endpoint:      "/api/ec2/",
		},
		{
			Intent:   "Search or Get your EC2 instances",
			Method:   "GET",
			Endpoint: "/api/ec2/search/",
		},
		{
			Intent:        "Delete your EC2 instance",
			RequiredSlots: []string{"Resource Name"},
			Method:        "DELETE",
			Endpoint:      "/api/ec2/",
		},
		{
			Intent:        "Create an RDS Database Instance",
			RequiredSlots: []string{"DB Name", "DB Engine", "Instance Class", "DB Storage"},
			Method:        "POST",
			Endpoint:      "/api/rds/",
		},
		{
			Intent:   "Get your exisitng RDS Database instances",
			Method:   "GET",
			Endpoint: "/api/rds/search/",
		},
		{
			Intent:        "Delete your RDS instance",
			RequiredSlots: []string{"Resource Name"},
			Method:        "DELETE",
			Endpoint:      "/api/rds/",
		},
		{
			Intent: "Create an ECS Cluster",
			RequiredSlots: []string{
				"Github URL",
				"Number of Instances",
				"Docker Image Name",
				"Container Port",
				"Cluster Name",
				"Healthcheck Endpoint",
				"CPU (in CPU units)",
				"Memory (in MB)",
			},
			Method:   "POST",
			Endpoint: "/api/ecs/",
		},
		{
			Intent:   "Get your exisitng ECS Clusters",
			Method:   "GET",
			Endpoint: "/api/ecs/search/",
		},
		{
			Intent:        "Delete an ECS Cluster",
			RequiredSlots: []string{"Resource Name"},
			Method:        "DELETE",
			Endpoint:      "/api/ecs/",
		},
		{
			Intent:   "Create a security group",
			Method:   "POST",
			Endpoint: "/api/custom/",
		},
	}
}
