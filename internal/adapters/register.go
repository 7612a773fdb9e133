// Package adapters wires every concrete source and destination
// implementation into a pipeline.Registry, grounded on the Python
// UniversalPipelineEngine constructor's explicit
// source_registry/dest_registry population.
package adapters

import (
	"github.com/stanstork/migratum/internal/adapters/dest/clickhouse"
	destmysql "github.com/stanstork/migratum/internal/adapters/dest/mysql"
	destpostgres "github.com/stanstork/migratum/internal/adapters/dest/postgres"
	"github.com/stanstork/migratum/internal/adapters/source/devops"
	srcmysql "github.com/stanstork/migratum/internal/adapters/source/mysql"
	srcpostgres "github.com/stanstork/migratum/internal/adapters/source/postgres"
	"github.com/stanstork/migratum/internal/adapters/source/sqlserver"
	"github.com/stanstork/migratum/internal/adapters/source/zohocrm"
	"github.com/stanstork/migratum/internal/pipeline"
)

// Register populates reg with every adapter this build supports.
func Register(reg *pipeline.Registry) {
	reg.RegisterSource(srcpostgres.SourceKey, func() pipeline.SourceAdapter { return srcpostgres.New() })
	reg.RegisterSource(srcmysql.SourceKey, func() pipeline.SourceAdapter { return srcmysql.New() })
	reg.RegisterSource(sqlserver.SourceKey, func() pipeline.SourceAdapter { return sqlserver.New() })
	reg.RegisterSource(devops.SourceKey, func() pipeline.SourceAdapter { return devops.New() })
	reg.RegisterSource(zohocrm.SourceKey, func() pipeline.SourceAdapter { return zohocrm.New() })

	reg.RegisterDestination(destpostgres.DestinationKey, func() pipeline.DestinationAdapter { return destpostgres.New() })
	reg.RegisterDestination(destmysql.DestinationKey, func() pipeline.DestinationAdapter { return destmysql.New() })
	reg.RegisterDestination(clickhouse.DestinationKey, func() pipeline.DestinationAdapter { return clickhouse.New() })
}
